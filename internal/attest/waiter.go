package attest

import (
	"context"
	"time"

	"github.com/ansersec/anser/internal/domain"
)

// Outcome — результат ожидания решения по аттестату.
type Outcome int

const (
	OutcomeTimedOut Outcome = iota
	OutcomeApproved
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeDenied:
		return "denied"
	default:
		return "timed_out"
	}
}

// AwaitResolution подвешивает вызывающего до терминального решения по
// аттестату, таймаута или отмены контекста. Никакого поллинга: реестр
// закрывает канал done при переходе из pending, ожидание стоит на select.
//
// Контракт таймаута: запись остается pending, позднее решение НЕ влияет на
// уже вернувшийся вызов — caller должен повторить запрос, чтобы подхватить
// запоздавший approve. Отмена контекста бросает ожидание, не трогая запись:
// решить ее сможет другой вызов или ретрай.
func (r *Registry) AwaitResolution(ctx context.Context, id string, timeout time.Duration) (Outcome, domain.Attestation, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return OutcomeTimedOut, domain.Attestation{},
			domain.E(domain.KindInvalidState, "attestation %s not found", id)
	}
	att := rec.att
	done := rec.done
	r.mu.Unlock()

	// Решение могло прийти до того, как мы начали ждать
	if att.Terminal() {
		return outcomeOf(att), att, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		att, _ := r.Get(id)
		return outcomeOf(att), att, nil
	case <-timer.C:
		att, _ := r.Get(id)
		return OutcomeTimedOut, att, nil
	case <-ctx.Done():
		att, _ := r.Get(id)
		return OutcomeTimedOut, att, ctx.Err()
	}
}

func outcomeOf(att domain.Attestation) Outcome {
	switch att.Status {
	case domain.AttestationApproved, domain.AttestationUsed:
		return OutcomeApproved
	case domain.AttestationDenied:
		return OutcomeDenied
	default:
		return OutcomeTimedOut
	}
}
