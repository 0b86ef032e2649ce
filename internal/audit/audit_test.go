package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func sampleRecord(id string) Record {
	return Record{
		ID:            id,
		TraceID:       "trace-1",
		Action:        "invoke",
		Target:        "tool:trading/execute_trade",
		Outcome:       OutcomeSuccess,
		Principal:     "alice",
		PayloadDigest: DigestPayload(map[string]any{"amount": 500.0}),
		Timestamp:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestDigestPayloadDeterministic(t *testing.T) {
	a := DigestPayload(map[string]any{"amount": 500.0, "symbol": "AAPL", "nested": map[string]any{"x": 1.0, "y": 2.0}})
	b := DigestPayload(map[string]any{"nested": map[string]any{"y": 2.0, "x": 1.0}, "symbol": "AAPL", "amount": 500.0})
	if a != b {
		t.Fatalf("digest depends on key order: %s vs %s", a, b)
	}

	c := DigestPayload(map[string]any{"amount": 501.0, "symbol": "AAPL"})
	if a == c {
		t.Fatal("different payloads must not collide")
	}

	if DigestPayload(nil) != DigestPayload(map[string]any{}) {
		t.Fatal("nil and empty payload must digest identically")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}

	r := sampleRecord("rec-1")
	sig, err := signer.Sign(r)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	r.Signature = sig

	if !signer.Verify(r) {
		t.Fatal("signature must verify for untouched record")
	}

	// Любая правка записи ломает подпись
	tampered := r
	tampered.Outcome = OutcomeDenied
	if signer.Verify(tampered) {
		t.Fatal("tampered record must not verify")
	}

	// Подпись покрывает запись без самого поля Signature
	resigned := r
	resigned.Signature = "deadbeef"
	if signer.Verify(resigned) {
		t.Fatal("forged signature must not verify")
	}
}

func TestNewSignerFromSeedHex(t *testing.T) {
	seed := "9e2c1f4b8a3d6e0c5b7a9d1f3e5c7b9a0d2f4e6c8b0a2d4f6e8c0b2a4d6f8e0c"
	s1, err := NewSignerFromSeedHex(seed)
	if err != nil {
		t.Fatalf("NewSignerFromSeedHex: %v", err)
	}
	s2, _ := NewSignerFromSeedHex("  " + seed + "\n")

	r := sampleRecord("rec-2")
	sig, _ := s1.Sign(r)
	r.Signature = sig
	// Один seed == один ключ: подпись сверяется другим инстансом
	if !s2.Verify(r) {
		t.Fatal("signers from the same seed must agree")
	}

	if _, err := NewSignerFromSeedHex("abcd"); err == nil {
		t.Fatal("short seed must be rejected")
	}
	if _, err := NewSignerFromSeedHex("not-hex"); err == nil {
		t.Fatal("non-hex seed must be rejected")
	}
}

// captureStorage копит батчи в памяти вместо Postgres
type captureStorage struct {
	mu      sync.Mutex
	batches [][]Record
}

func (c *captureStorage) WriteBatch(_ context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]Record, len(records))
	copy(batch, records)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStorage) all() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func TestSinkFlushesEverythingOnStop(t *testing.T) {
	storage := &captureStorage{}
	signer, _ := GenerateSigner()
	sink := NewSink(storage, signer, 1000, 10, time.Hour, zap.NewNop())
	sink.Start()

	const n = 37 // не кратно batchSize: хвост уйдет финальным сбросом
	for i := 0; i < n; i++ {
		sink.Log(sampleRecord("rec"))
	}
	sink.Stop()

	got := storage.all()
	if len(got) != n {
		t.Fatalf("flushed %d records, want %d", len(got), n)
	}
	for i, r := range got {
		if r.Signature == "" {
			t.Fatalf("record %d stored unsigned", i)
		}
		if !signer.Verify(r) {
			t.Fatalf("record %d signature does not verify", i)
		}
		if r.Timestamp.IsZero() {
			t.Fatalf("record %d stored without timestamp", i)
		}
	}
}

func TestSinkFlushesByBatchSize(t *testing.T) {
	storage := &captureStorage{}
	sink := NewSink(storage, NopSigner{}, 1000, 5, time.Hour, zap.NewNop())
	sink.Start()

	for i := 0; i < 5; i++ {
		sink.Log(sampleRecord("rec"))
	}

	// Батч полон: сброс происходит без ожидания тикера и без Stop
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(storage.all()) == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(storage.all()); got != 5 {
		t.Fatalf("full batch not flushed: got %d records", got)
	}
	sink.Stop()
}

type fakeGauge struct {
	mu   sync.Mutex
	last float64
	seen bool
}

func (g *fakeGauge) Set(v float64) {
	g.mu.Lock()
	g.last = v
	g.seen = true
	g.mu.Unlock()
}

func TestSinkReportsBufferFill(t *testing.T) {
	storage := &captureStorage{}
	gauge := &fakeGauge{}
	sink := NewSink(storage, NopSigner{}, 100, 10, time.Hour, zap.NewNop())
	sink.MonitorBuffer(gauge)
	sink.Start()

	for i := 0; i < 7; i++ {
		sink.Log(sampleRecord("rec"))
	}
	sink.Stop()

	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	if !gauge.seen {
		t.Fatal("buffer gauge never updated")
	}
	// Последнее показание — финальный сброс: буфер вычитан до нуля
	if gauge.last != 0 {
		t.Fatalf("gauge after drain = %v, want 0", gauge.last)
	}
}

func TestSinkDropsAfterStop(t *testing.T) {
	storage := &captureStorage{}
	sink := NewSink(storage, NopSigner{}, 10, 10, time.Hour, zap.NewNop())
	sink.Start()
	sink.Stop()

	// Log после Stop не паникует и ничего не пишет
	sink.Log(sampleRecord("late"))
	if got := len(storage.all()); got != 0 {
		t.Fatalf("record logged after Stop must be dropped, got %d", got)
	}
}
