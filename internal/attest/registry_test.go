package attest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ansersec/anser/internal/domain"

	"go.uber.org/zap"
)

var (
	alice   = domain.Principal{ID: "alice", Roles: []string{"trader"}}
	manager = domain.Principal{ID: "bob", Roles: []string{"manager"}}
	intern  = domain.Principal{ID: "eve", Roles: []string{"intern"}}
)

func newTestRegistry() (*Registry, *MemoryStore) {
	store := NewMemoryStore()
	return NewRegistry(store, zap.NewNop()), store
}

func oneTimeSpec() domain.AttestationSpec {
	return domain.AttestationSpec{ApprovalCriteria: "role:manager", TimeoutSec: 300, OneTime: true}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	first, err := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("pending request duplicated: %s vs %s", first.ID, second.ID)
	}
	if second.Status != domain.AttestationPending {
		t.Fatalf("status = %s, want pending", second.Status)
	}

	// Другой ресурс — другая запись
	other, err := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/cancel_trade", oneTimeSpec())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("records for different resources must not collide")
	}
}

func TestApproveRequiresCriteria(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	att, _ := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())

	if _, err := reg.Approve(ctx, att.ID, intern, "lgtm"); domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("intern approval must be Unauthorized, got %v", err)
	}

	got, err := reg.Approve(ctx, att.ID, manager, "ok")
	if err != nil {
		t.Fatalf("manager approval failed: %v", err)
	}
	if got.Status != domain.AttestationApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.ResolverPrincipal != manager.ID {
		t.Fatalf("resolver = %s, want %s", got.ResolverPrincipal, manager.ID)
	}
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	att, _ := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = reg.Approve(ctx, att.ID, manager, "yes")
			} else {
				_, errs[i] = reg.Deny(ctx, att.ID, manager, "no")
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrInvalidState):
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one decision must win, got %d", winners)
	}

	stored, ok := store.Get(att.ID)
	if !ok {
		t.Fatal("record missing from store")
	}
	if stored.Status != domain.AttestationApproved && stored.Status != domain.AttestationDenied {
		t.Fatalf("store status = %s, want terminal", stored.Status)
	}
}

func TestOneTimeConsumeBlocksReuse(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	att, _ := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())

	// Пока решения нет, потреблять нечего
	if err := reg.ConsumeIfOneTime(ctx, att.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("consume of pending grant must be InvalidState, got %v", err)
	}

	if _, err := reg.Approve(ctx, att.ID, manager, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := reg.ConsumeIfOneTime(ctx, att.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// Повторное потребление — проигранная гонка
	if err := reg.ConsumeIfOneTime(ctx, att.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second consume must be InvalidState, got %v", err)
	}

	// Потребленный грант не переиспользуется: следующий запрос — новый pending
	next, err := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())
	if err != nil {
		t.Fatalf("GetOrCreate after consume: %v", err)
	}
	if next.ID == att.ID {
		t.Fatal("used grant must not be returned again")
	}
	if next.Status != domain.AttestationPending {
		t.Fatalf("status = %s, want pending", next.Status)
	}
}

func TestReusableGrantServesManyCalls(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	spec := domain.AttestationSpec{ApprovalCriteria: "role:manager", TimeToLiveSec: 3600, OneTime: false}

	att, _ := reg.GetOrCreate(ctx, "search-allowed", alice, "tool:search/web_search", spec)
	if _, err := reg.Approve(ctx, att.ID, manager, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := reg.GetOrCreate(ctx, "search-allowed", alice, "tool:search/web_search", spec)
		if err != nil {
			t.Fatalf("GetOrCreate #%d: %v", i, err)
		}
		if got.ID != att.ID || got.Status != domain.AttestationApproved {
			t.Fatalf("call #%d must reuse approved grant, got %s/%s", i, got.ID, got.Status)
		}
		// Многоразовый грант не гасится
		if err := reg.ConsumeIfOneTime(ctx, got.ID); err != nil {
			t.Fatalf("consume of reusable grant must be a no-op, got %v", err)
		}
	}
}

func TestGrantExpiresAfterTTL(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	current := time.Now()
	reg.now = func() time.Time { return current }

	spec := domain.AttestationSpec{ApprovalCriteria: "role:manager", TimeToLiveSec: 60, OneTime: false}
	att, _ := reg.GetOrCreate(ctx, "search-allowed", alice, "tool:search/web_search", spec)
	if _, err := reg.Approve(ctx, att.ID, manager, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// В пределах TTL грант живой
	current = current.Add(30 * time.Second)
	got, _ := reg.GetOrCreate(ctx, "search-allowed", alice, "tool:search/web_search", spec)
	if got.ID != att.ID {
		t.Fatal("grant must be reused within TTL")
	}

	// После TTL — протух, новый запрос создает новый pending
	current = current.Add(31 * time.Second)
	got, err := reg.GetOrCreate(ctx, "search-allowed", alice, "tool:search/web_search", spec)
	if err != nil {
		t.Fatalf("GetOrCreate after expiry: %v", err)
	}
	if got.ID == att.ID || got.Status != domain.AttestationPending {
		t.Fatalf("expired grant must not pass calls, got %s/%s", got.ID, got.Status)
	}

	stored, _ := store.Get(att.ID)
	if stored.Status != domain.AttestationExpired {
		t.Fatalf("store status = %s, want expired", stored.Status)
	}
}

func TestListFiltersByCriteriaAndStatus(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade",
		domain.AttestationSpec{ApprovalCriteria: "role:manager", OneTime: true})
	reg.GetOrCreate(ctx, "bob-only", alice, "tool:admin/delete_user",
		domain.AttestationSpec{ApprovalCriteria: "user:bob", OneTime: true})
	reg.GetOrCreate(ctx, "anyone", alice, "tool:calculator",
		domain.AttestationSpec{ApprovalCriteria: "*", OneTime: true})

	if got := len(reg.List(ctx, "", manager)); got != 3 {
		// bob — manager по роли и bob лично, плюс "*"
		t.Fatalf("manager sees %d records, want 3", got)
	}
	if got := len(reg.List(ctx, "", intern)); got != 1 {
		t.Fatalf("intern sees %d records, want 1 (wildcard only)", got)
	}
	if got := len(reg.List(ctx, domain.AttestationApproved, manager)); got != 0 {
		t.Fatalf("no approved records yet, got %d", got)
	}
}

func TestApplyDecisionIgnoresUnknownAndResolved(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	// Чужая запись (другой инстанс шлюза) — тихо пропускаем
	if err := reg.ApplyDecision("missing-id", domain.AttestationApproved, "bob", ""); err != nil {
		t.Fatalf("unknown record must be ignored, got %v", err)
	}

	att, _ := reg.GetOrCreate(ctx, "trade-approved", alice, "tool:trading/execute_trade", oneTimeSpec())
	if err := reg.ApplyDecision(att.ID, domain.AttestationApproved, "bob", "via console"); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	got, _ := reg.Get(att.ID)
	if got.Status != domain.AttestationApproved || got.ResolverPrincipal != "bob" {
		t.Fatalf("decision not applied: %+v", got)
	}

	// Повторное решение проигрывает гонку
	if err := reg.ApplyDecision(att.ID, domain.AttestationDenied, "eve", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second decision must be InvalidState, got %v", err)
	}

	// Недопустимый целевой статус отвергается сразу
	if err := reg.ApplyDecision(att.ID, domain.AttestationPending, "bob", ""); domain.KindOf(err) != domain.KindInvalidState {
		t.Fatalf("pending target must be rejected, got %v", err)
	}
}
