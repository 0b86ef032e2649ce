package engine

import (
	"context"
	"time"

	"github.com/ansersec/anser/internal/attest"
	"github.com/ansersec/anser/internal/audit"
	"github.com/ansersec/anser/internal/domain"
	"github.com/ansersec/anser/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionProvider — исполнитель гейтнутых вызовов (PEP наружу).
// Реальная реализация живет в connectors и ходит к удаленным системам.
type ExecutionProvider interface {
	Call(ctx context.Context, resource string, params map[string]any) (map[string]any, error)
}

// Core — ядро шлюза: выстраивает вызов через отзыв, PDP, аттестацию
// и исполнение, журналируя каждый исход.
type Core struct {
	pdp        *policy.PDP
	registry   *attest.Registry
	revocation *RevocationManager
	executor   ExecutionProvider
	auditor    audit.Recorder
	metrics    *Metrics
	logger     *zap.Logger

	// Таймаут ожидания решения, если политика не задала свой
	defaultTimeout time.Duration
}

func NewCore(
	pdp *policy.PDP,
	registry *attest.Registry,
	revocation *RevocationManager,
	executor ExecutionProvider,
	auditor audit.Recorder,
	metrics *Metrics,
	defaultTimeout time.Duration,
	logger *zap.Logger,
) *Core {
	if defaultTimeout <= 0 {
		defaultTimeout = 300 * time.Second
	}
	return &Core{
		pdp:            pdp,
		registry:       registry,
		revocation:     revocation,
		executor:       executor,
		auditor:        auditor,
		metrics:        metrics,
		logger:         logger.Named("core"),
		defaultTimeout: defaultTimeout,
	}
}

// Invoke проводит вызов через весь конвейер шлюза.
//
// Порядок проверок фиксирован: сначала самые дешевые (RAM), потом блокирующие:
//  1. Отзыв принципала (включая всю цепочку делегирования)
//  2. PDP: denylist -> allowlist -> параметры -> условия аттестаций
//  3. Последовательное разрешение сработавших требований: валидный грант
//     пропускает сразу, pending подвешивает вызов до решения/таймаута
//  4. Исполнение; one_time гранты гасятся только после УСПЕХА
func (c *Core) Invoke(ctx context.Context, principal domain.Principal,
	resource string, params map[string]any) (map[string]any, error) {

	start := time.Now()
	c.metrics.TotalRequests.WithLabelValues(principal.ID, resource).Inc()

	base := audit.Record{
		TraceID:       extractTraceID(ctx),
		Action:        "invoke",
		Target:        resource,
		Principal:     principal.ID,
		PayloadDigest: audit.DigestPayload(params),
	}

	outcome := audit.OutcomeFailed
	defer func() {
		c.metrics.RequestDuration.
			WithLabelValues(principal.ID, resource, outcome).
			Observe(time.Since(start).Seconds())
	}()

	// 1. Отзыв: проверяем каждое звено цепочки — отзыв делегата гасит
	// и все вызовы, сделанные от его имени
	for _, link := range principal.Chain() {
		if c.revocation.IsRevoked(link.ID) {
			outcome = audit.OutcomeRevoked
			c.emit(base, "invoke", outcome, "principal "+link.ID+" is revoked")
			c.metrics.ErrorTotal.WithLabelValues("revoked").Inc()
			return nil, domain.E(domain.KindUnauthorized, "principal %s is revoked", link.ID)
		}
	}

	// 2. PDP
	decision := c.pdp.Decide(principal, resource, params)
	if decision.Kind == policy.DecisionDeny {
		outcome = audit.OutcomeDenied
		c.emit(base, "invoke", outcome, decision.Reason)
		c.metrics.ErrorTotal.WithLabelValues("policy_deny").Inc()
		return nil, domain.E(domain.KindDenied, "%s", decision.Reason)
	}

	// 3. Требования аттестации — строго в порядке правил политики
	var consumable []string
	if decision.Kind == policy.DecisionRequireAttestation {
		ids, err := c.resolveRequirements(ctx, base, principal, resource, decision.Requirements, &outcome)
		if err != nil {
			return nil, err
		}
		consumable = ids
	}

	// 4. Исполнение
	resp, execErr := c.executor.Call(ctx, resource, params)
	base.DurationMs = time.Since(start).Milliseconds()

	if execErr != nil {
		// Упавший вызов НЕ тратит one_time гранты: агент может повторить
		outcome = audit.OutcomeFailed
		c.emit(base, "invoke", outcome, execErr.Error())
		c.metrics.ErrorTotal.WithLabelValues("execution").Inc()
		return nil, execErr
	}

	for _, id := range consumable {
		if err := c.registry.ConsumeIfOneTime(ctx, id); err != nil {
			// Гонка двух успехов на одном гранте: второй получает InvalidState,
			// сам вызов уже исполнен — только фиксируем
			c.logger.Warn("one-time grant already consumed",
				zap.String("attestation_id", id), zap.Error(err))
		}
	}

	outcome = audit.OutcomeSuccess
	c.emit(base, "invoke", outcome, "")
	return resp, nil
}

// resolveRequirements разрешает сработавшие требования по одному: первое
// неудовлетворенное определяет судьбу вызова. Возвращает id одноразовых
// грантов, которые нужно погасить после успешного исполнения.
func (c *Core) resolveRequirements(ctx context.Context, base audit.Record,
	principal domain.Principal, resource string,
	reqs []policy.Requirement, outcome *string) ([]string, error) {

	var consumable []string

	for _, req := range reqs {
		att, err := c.registry.GetOrCreate(ctx, req.Key, principal, resource, req.Spec)
		if err != nil {
			*outcome = audit.OutcomeFailed
			c.emit(base, "attestation_request", *outcome, err.Error())
			return nil, err
		}

		// Ранее выданный многоразовый (или еще не потребленный) грант
		if att.Status == domain.AttestationApproved {
			*outcome = audit.OutcomeAccessed
			c.emit(base, "attestation_accessed", *outcome, "grant "+att.ID+" reused")
			if att.OneTime {
				consumable = append(consumable, att.ID)
			}
			continue
		}

		// Pending: вызов подвешивается до человеческого решения
		c.emit(base, "attestation_pending", audit.OutcomePending, "awaiting decision on "+att.ID)

		timeout := req.Spec.Timeout()
		if timeout <= 0 {
			timeout = c.defaultTimeout
		}

		c.metrics.AttestationsPending.Inc()
		waitStart := time.Now()
		res, resolved, waitErr := c.registry.AwaitResolution(ctx, att.ID, timeout)
		c.metrics.AttestationsPending.Dec()
		c.metrics.AttestationWaitDuration.
			WithLabelValues(res.String()).
			Observe(time.Since(waitStart).Seconds())

		if waitErr != nil {
			// Контекст вызова отменен: запись остается pending, решит ее ретрай
			return nil, waitErr
		}

		switch res {
		case attest.OutcomeApproved:
			if resolved.OneTime {
				consumable = append(consumable, resolved.ID)
			}
		case attest.OutcomeDenied:
			*outcome = audit.OutcomeDenied
			c.emit(base, "attestation_denied", *outcome, resolved.Reason)
			c.metrics.ErrorTotal.WithLabelValues("attestation_denied").Inc()
			return nil, domain.E(domain.KindAttestationDenied,
				"attestation %q denied by %s: %s", req.Key, resolved.ResolverPrincipal, resolved.Reason)
		default:
			*outcome = audit.OutcomeTimeout
			c.emit(base, "attestation_timeout", *outcome, "no decision within "+timeout.String())
			c.metrics.ErrorTotal.WithLabelValues("attestation_timeout").Inc()
			return nil, domain.E(domain.KindAttestationTimeout,
				"attestation %q not resolved within %s", req.Key, timeout)
		}
	}

	return consumable, nil
}

// ListAttestations отдает записи, решение по которым доступно принципалу.
func (c *Core) ListAttestations(ctx context.Context, approver domain.Principal,
	status domain.AttestationStatus) []domain.Attestation {
	return c.registry.List(ctx, status, approver)
}

// ApproveAttestation разрешает pending-аттестат от имени резолвера.
func (c *Core) ApproveAttestation(ctx context.Context, id string,
	resolver domain.Principal, reason string) (domain.Attestation, error) {

	att, err := c.registry.Approve(ctx, id, resolver, reason)
	if err != nil {
		return domain.Attestation{}, err
	}
	c.emit(audit.Record{
		TraceID:   extractTraceID(ctx),
		Target:    att.Resource,
		Principal: resolver.ID,
	}, "attestation_approved", audit.OutcomeSuccess, "grant "+att.ID)
	return att, nil
}

// DenyAttestation отклоняет pending-аттестат. Терминально.
func (c *Core) DenyAttestation(ctx context.Context, id string,
	resolver domain.Principal, reason string) (domain.Attestation, error) {

	att, err := c.registry.Deny(ctx, id, resolver, reason)
	if err != nil {
		return domain.Attestation{}, err
	}
	c.emit(audit.Record{
		TraceID:   extractTraceID(ctx),
		Target:    att.Resource,
		Principal: resolver.ID,
	}, "attestation_denied", audit.OutcomeDenied, reason)
	return att, nil
}

func (c *Core) emit(base audit.Record, action, outcome, reason string) {
	base.ID = uuid.New().String()
	base.Action = action
	base.Outcome = outcome
	base.Reason = reason
	c.auditor.Log(base)
}
