package attest

/*
Файл registry.go реализует реестр аттестатов — единственный разделяемый
мутабельный ресурс шлюза.

Инварианты конкурентности:
- Single-writer per record: approve/deny/consume сериализуются одним мьютексом;
  из двух гонящихся решений по одному id выигрывает ровно одно, проигравшее
  получает InvalidState.
- Waiters никогда не мутируют запись: пробуждение — через закрытие канала done,
  таймаут оставляет запись pending для следующей попытки.
- Читатели (List) не видят "рваных" записей: наружу уходят только копии,
  снятые под локом.
*/

import (
	"context"
	"time"

	"github.com/ansersec/anser/internal/domain"

	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type indexKey struct {
	key       string
	principal string
	resource  string
}

type record struct {
	att  domain.Attestation
	done chan struct{} // закрывается при переходе в терминальный статус
}

type Registry struct {
	mu      sync.Mutex
	records map[string]*record  // по id
	index   map[indexKey]string // живой аттестат для (key, principal, resource)

	store  Store
	logger *zap.Logger

	now func() time.Time // подменяется в тестах TTL
}

func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		records: make(map[string]*record),
		index:   make(map[indexKey]string),
		store:   store,
		logger:  logger.Named("attest-registry"),
		now:     time.Now,
	}
}

// GetOrCreate идемпотентен: пока для (key, principal, resource) живет
// pending или валидный approved аттестат, новый не создается — возвращается
// существующий. Это и есть путь "reusable capability": одобрили один раз,
// дальше вызовы идут без блокировки до истечения TTL.
func (r *Registry) GetOrCreate(ctx context.Context, key string, principal domain.Principal,
	resource string, spec domain.AttestationSpec) (domain.Attestation, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	ik := indexKey{key: key, principal: principal.ID, resource: resource}
	if id, ok := r.index[ik]; ok {
		rec := r.records[id]
		r.expireLocked(ctx, rec)
		if rec.att.Status == domain.AttestationPending || rec.att.ValidAt(r.now()) {
			return rec.att, nil
		}
		// denied/expired/used — запись отработала, место для новой
		delete(r.index, ik)
	}

	att := domain.Attestation{
		ID:               uuid.New().String(),
		Key:              key,
		ForPrincipal:     principal.ID,
		Resource:         resource,
		ApprovalCriteria: spec.ApprovalCriteria,
		OneTime:          spec.OneTime,
		TimeToLive:       spec.TimeToLive(),
		Status:           domain.AttestationPending,
		CreatedAt:        r.now(),
	}

	// Вставка обязана пройти: без строки в хранилище консоль не увидит
	// запрос и никто его не одобрит
	if err := r.store.Insert(ctx, att); err != nil {
		return domain.Attestation{}, err
	}

	r.records[att.ID] = &record{att: att, done: make(chan struct{})}
	r.index[ik] = att.ID

	r.logger.Info("attestation created",
		zap.String("id", att.ID),
		zap.String("key", key),
		zap.String("principal", principal.ID),
		zap.String("resource", resource))
	return att, nil
}

// List отдает записи, решение по которым доступен данному принципалу:
// фильтр по статусу (по умолчанию pending) + проверка approval_criteria.
func (r *Registry) List(ctx context.Context, status domain.AttestationStatus,
	approver domain.Principal) []domain.Attestation {

	if status == "" {
		status = domain.AttestationPending
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Attestation
	for _, rec := range r.records {
		r.expireLocked(ctx, rec)
		if rec.att.Status != status {
			continue
		}
		if !approver.SatisfiesCriteria(rec.att.ApprovalCriteria) {
			continue
		}
		out = append(out, rec.att)
	}
	return out
}

// Approve переводит pending -> approved. Unauthorized, если резолвер не
// удовлетворяет approval_criteria; InvalidState, если решение уже принято.
func (r *Registry) Approve(ctx context.Context, id string, resolver domain.Principal, reason string) (domain.Attestation, error) {
	return r.resolve(ctx, id, resolver, reason, domain.AttestationApproved)
}

// Deny переводит pending -> denied. Терминально: запись не реактивируется.
func (r *Registry) Deny(ctx context.Context, id string, resolver domain.Principal, reason string) (domain.Attestation, error) {
	return r.resolve(ctx, id, resolver, reason, domain.AttestationDenied)
}

func (r *Registry) resolve(ctx context.Context, id string, resolver domain.Principal,
	reason string, to domain.AttestationStatus) (domain.Attestation, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.Attestation{}, domain.E(domain.KindInvalidState, "attestation %s not found", id)
	}

	if !resolver.SatisfiesCriteria(rec.att.ApprovalCriteria) {
		return domain.Attestation{}, domain.E(domain.KindUnauthorized,
			"principal %s does not satisfy %q", resolver.ID, rec.att.ApprovalCriteria)
	}

	if err := rec.att.CanTransitionTo(to); err != nil {
		return domain.Attestation{}, err
	}

	// Хранилище — арбитр межпроцессных гонок: conditional update решает,
	// кто был первым, даже если второе решение пришло через консоль
	updated, err := r.store.UpdateStatus(ctx, id,
		domain.AttestationPending, to, resolver.ID, reason, r.now())
	if err != nil {
		return domain.Attestation{}, err
	}
	if !updated {
		return domain.Attestation{}, domain.ErrInvalidState
	}

	r.transitionLocked(rec, to, resolver.ID, reason)
	return rec.att, nil
}

// ApplyDecision применяет решение, уже принятое и персистентное снаружи
// (консоль проверила права и обновила БД, сигнал пришел через Redis).
// Здесь только локальный автомат и пробуждение ждущих.
func (r *Registry) ApplyDecision(id string, to domain.AttestationStatus, resolver, reason string) error {
	if to != domain.AttestationApproved && to != domain.AttestationDenied {
		return domain.E(domain.KindInvalidState, "decision must be approved or denied, got %s", to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		// Решение по чужой записи (другой инстанс шлюза) — не наша забота
		return nil
	}
	if err := rec.att.CanTransitionTo(to); err != nil {
		r.logger.Debug("remote decision lost the race", zap.String("id", id))
		return err
	}

	r.transitionLocked(rec, to, resolver, reason)
	return nil
}

// ConsumeIfOneTime атомарно гасит одноразовый approved-аттестат после
// УСПЕШНОГО вызова. Потребление привязано к успеху, не к попытке:
// упавший вызов не тратит грант. Многоразовые записи не трогаем.
func (r *Registry) ConsumeIfOneTime(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.E(domain.KindInvalidState, "attestation %s not found", id)
	}
	if !rec.att.OneTime {
		return nil
	}
	if err := rec.att.CanTransitionTo(domain.AttestationUsed); err != nil {
		return err
	}

	updated, err := r.store.UpdateStatus(ctx, id,
		domain.AttestationApproved, domain.AttestationUsed,
		rec.att.ResolverPrincipal, rec.att.Reason, r.now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrInvalidState
	}

	rec.att.Status = domain.AttestationUsed
	delete(r.index, indexKey{key: rec.att.Key, principal: rec.att.ForPrincipal, resource: rec.att.Resource})

	r.logger.Info("one-time attestation consumed", zap.String("id", id))
	return nil
}

// Get возвращает копию записи (для аудита и ответов API).
func (r *Registry) Get(id string) (domain.Attestation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.Attestation{}, false
	}
	return rec.att, true
}

// StartJanitor периодически гасит просроченные approved-записи, чтобы
// List не таскал мертвые гранты. Ленивая проверка в GetOrCreate/List
// корректна и без него — янитор лишь убирает мусор.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			for id, rec := range r.records {
				r.expireLocked(ctx, rec)
				// отработавшие записи (denied/used/expired) не нужны в RAM:
				// история живет в Postgres
				switch rec.att.Status {
				case domain.AttestationDenied, domain.AttestationUsed, domain.AttestationExpired:
					if rec.att.ResolvedAt != nil && r.now().Sub(*rec.att.ResolvedAt) > interval {
						delete(r.records, id)
					}
				}
			}
			r.mu.Unlock()
		}
	}
}

// transitionLocked — единственное место, где запись уходит из pending.
// Вызывается строго под r.mu.
func (r *Registry) transitionLocked(rec *record, to domain.AttestationStatus, resolver, reason string) {
	now := r.now()
	rec.att.Status = to
	rec.att.ResolvedAt = &now
	rec.att.ResolverPrincipal = resolver
	rec.att.Reason = reason
	close(rec.done) // будим всех ждущих

	if to == domain.AttestationDenied {
		delete(r.index, indexKey{key: rec.att.Key, principal: rec.att.ForPrincipal, resource: rec.att.Resource})
	}

	r.logger.Info("attestation resolved",
		zap.String("id", rec.att.ID),
		zap.String("status", string(to)),
		zap.String("resolver", resolver))
}

// expireLocked лениво переводит протухший approved в expired.
func (r *Registry) expireLocked(ctx context.Context, rec *record) {
	if rec.att.Status != domain.AttestationApproved {
		return
	}
	if rec.att.TimeToLive <= 0 || rec.att.ResolvedAt == nil {
		return
	}
	if r.now().Before(rec.att.ResolvedAt.Add(rec.att.TimeToLive)) {
		return
	}

	if _, err := r.store.UpdateStatus(ctx, rec.att.ID,
		domain.AttestationApproved, domain.AttestationExpired,
		rec.att.ResolverPrincipal, "ttl elapsed", r.now()); err != nil {
		r.logger.Warn("failed to persist expiry", zap.String("id", rec.att.ID), zap.Error(err))
	}

	rec.att.Status = domain.AttestationExpired
	delete(r.index, indexKey{key: rec.att.Key, principal: rec.att.ForPrincipal, resource: rec.att.Resource})
}
