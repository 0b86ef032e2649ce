package audit

/*
Файл sink.go реализует приемник журнала решений (Audit Sink).

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path шлюза через неблокирующий
  канал, задержки записи в БД не влияют на Response Time вызова.
- Batching: накопление записей в памяти и пакетная вставка (Bulk Insert)
  по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью — sync.WaitGroup и закрытие канала гарантируют Final Flush.
- Подпись: каждая запись подписывается ДО постановки в очередь, чтобы
  хранилище никогда не видело неподписанных записей.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически ложится журнал (Postgres в проде)
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

// Recorder — то, что видит движок шлюза: только запись, никакого чтения.
type Recorder interface {
	Log(r Record)
}

// BufferGauge — внешний датчик заполненности буфера (prometheus.Gauge).
// Sink о метриках не знает, он лишь сообщает len(ch) после каждого
// изменения буфера.
type BufferGauge interface {
	Set(v float64)
}

type Sink struct {
	ch     chan Record
	repo   Storage
	signer Signer
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	fill BufferGauge // может быть nil

	// Защита от Log после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewSink(repo Storage, signer Signer, bufferSize, batchSize int,
	flushInterval time.Duration, logger *zap.Logger) *Sink {

	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Sink{
		ch:            make(chan Record, bufferSize),
		repo:          repo,
		signer:        signer,
		logger:        logger.With(zap.String("mod", "audit-sink")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// MonitorBuffer подключает датчик заполненности буфера (backpressure наружу).
// Вызывать до Start.
func (s *Sink) MonitorBuffer(g BufferGauge) {
	s.fill = g
}

func (s *Sink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (s *Sink) Stop() {
	atomic.StoreInt32(&s.isClosed, 1)

	// Крошечная пауза, чтобы Log-и, прошедшие проверку флага, успели проскочить
	time.Sleep(10 * time.Millisecond)

	s.logger.Info("stopping audit sink: closing channel and flushing buffer...")
	close(s.ch)
	s.wg.Wait()
	s.logger.Info("audit sink stopped gracefully")
}

func (s *Sink) Log(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	sig, err := s.signer.Sign(r)
	if err != nil {
		// Неподписанная запись в журнал не попадает — фиксируем сбой явно
		s.logger.Error("audit record signing failed", zap.String("id", r.ID), zap.Error(err))
		return
	}
	r.Signature = sig

	if atomic.LoadInt32(&s.isClosed) == 1 {
		s.logger.Warn("audit record dropped: sink is stopping", zap.String("id", r.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие не блокирует вызов,
	// а уходит в обычный лог, чтобы данные не потерялись молча
	select {
	case s.ch <- r:
		s.observeFill()
	default:
		s.logger.Error("audit_buffer_overflow",
			zap.String("principal", r.Principal),
			zap.String("trace_id", r.TraceID),
		)
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()

	batch := make([]Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		s.observeFill()
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		if err := s.repo.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки — финальный сброс
				flush()
				s.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) observeFill() {
	if s.fill != nil {
		s.fill.Set(float64(len(s.ch)))
	}
}
