package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ansersec/anser/internal/domain"
)

func TestBoundServiceInvoke(t *testing.T) {
	exec, _ := okExecutor()
	env := newTestEnv(t, exec, time.Minute, tradingPolicy())

	svc := Bind(env.core, alice)
	resp, err := svc.Invoke(context.Background(),
		"tool:trading/execute_trade", map[string]any{"amount": 500.0})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp["status"] != "done" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestUnbindClosesHandle(t *testing.T) {
	exec, _ := okExecutor()
	env := newTestEnv(t, exec, time.Minute, tradingPolicy())
	ctx := context.Background()

	svc := Bind(env.core, alice)
	svc.Unbind()
	svc.Unbind() // идемпотентен

	if _, err := svc.Invoke(ctx, "tool:trading/execute_trade", nil); !errors.Is(err, domain.ErrNotBound) {
		t.Fatalf("Invoke after Unbind = %v, want ErrNotBound", err)
	}
	if _, err := svc.ListAttestations(ctx, domain.AttestationPending); !errors.Is(err, domain.ErrNotBound) {
		t.Fatalf("ListAttestations after Unbind = %v, want ErrNotBound", err)
	}
	if _, err := svc.ApproveAttestation(ctx, "any", "ok"); !errors.Is(err, domain.ErrNotBound) {
		t.Fatalf("ApproveAttestation after Unbind = %v, want ErrNotBound", err)
	}
	if _, err := svc.DenyAttestation(ctx, "any", "no"); !errors.Is(err, domain.ErrNotBound) {
		t.Fatalf("DenyAttestation after Unbind = %v, want ErrNotBound", err)
	}
	if _, err := svc.Delegate("sub"); !errors.Is(err, domain.ErrNotBound) {
		t.Fatalf("Delegate after Unbind = %v, want ErrNotBound", err)
	}
}

func TestHandlesAreIndependent(t *testing.T) {
	exec, _ := okExecutor()
	env := newTestEnv(t, exec, time.Minute, tradingPolicy())
	ctx := context.Background()

	first := Bind(env.core, alice)
	second := Bind(env.core, alice)

	// Закрытие одного хэндла не трогает другой
	first.Unbind()
	if _, err := second.Invoke(ctx, "tool:trading/execute_trade",
		map[string]any{"amount": 500.0}); err != nil {
		t.Fatalf("sibling handle must survive Unbind, got %v", err)
	}
}

func TestDelegateBuildsChain(t *testing.T) {
	exec, _ := okExecutor()
	env := newTestEnv(t, exec, time.Minute, tradingPolicy())

	root := Bind(env.core, alice)
	sub, err := root.Delegate("sub-agent", "researcher")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	chain := sub.Principal().Chain()
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[0].ID != "sub-agent" || chain[1].ID != alice.ID {
		t.Fatalf("chain = [%s, %s], want [sub-agent, alice]", chain[0].ID, chain[1].ID)
	}

	// Делегат без собственной политики упирается в default deny
	if _, err := sub.Invoke(context.Background(), "tool:trading/execute_trade",
		map[string]any{"amount": 500.0}); domain.KindOf(err) != domain.KindDenied {
		t.Fatalf("delegate without policy must be denied, got %v", err)
	}

	// Unbind делегата не закрывает родителя
	sub.Unbind()
	if _, err := root.Invoke(context.Background(), "tool:trading/execute_trade",
		map[string]any{"amount": 500.0}); err != nil {
		t.Fatalf("parent handle must survive delegate Unbind, got %v", err)
	}
}
