package engine

import (
	"context"
	"sync/atomic"

	"github.com/ansersec/anser/internal/domain"
)

// BoundService — сервисный хэндл, привязанный к конкретному принципалу.
// Владелец хэндла сам управляет его временем жизни: Unbind закрывает хэндл,
// не трогая ни ядро, ни другие хэндлы того же принципала. Никаких глобальных
// списков инстансов — хэндл живет ровно столько, сколько его держат.
type BoundService struct {
	core      *Core
	principal domain.Principal

	unbound int32 // атомарный флаг (0 - жив, 1 - закрыт)
}

// Bind создает независимый хэндл для принципала. Повторный Bind того же
// принципала дает новый хэндл с собственным временем жизни.
func Bind(core *Core, principal domain.Principal) *BoundService {
	return &BoundService{core: core, principal: principal}
}

// Invoke выполняет гейтнутый вызов от имени привязанного принципала.
func (b *BoundService) Invoke(ctx context.Context, resource string,
	params map[string]any) (map[string]any, error) {

	if atomic.LoadInt32(&b.unbound) == 1 {
		return nil, domain.ErrNotBound
	}
	return b.core.Invoke(ctx, b.principal, resource, params)
}

// ListAttestations возвращает записи, решение по которым доступно
// привязанному принципалу.
func (b *BoundService) ListAttestations(ctx context.Context,
	status domain.AttestationStatus) ([]domain.Attestation, error) {

	if atomic.LoadInt32(&b.unbound) == 1 {
		return nil, domain.ErrNotBound
	}
	return b.core.ListAttestations(ctx, b.principal, status), nil
}

// ApproveAttestation одобряет чужой pending-запрос от имени принципала.
func (b *BoundService) ApproveAttestation(ctx context.Context, id, reason string) (domain.Attestation, error) {
	if atomic.LoadInt32(&b.unbound) == 1 {
		return domain.Attestation{}, domain.ErrNotBound
	}
	return b.core.ApproveAttestation(ctx, id, b.principal, reason)
}

// DenyAttestation отклоняет чужой pending-запрос от имени принципала.
func (b *BoundService) DenyAttestation(ctx context.Context, id, reason string) (domain.Attestation, error) {
	if atomic.LoadInt32(&b.unbound) == 1 {
		return domain.Attestation{}, domain.ErrNotBound
	}
	return b.core.DenyAttestation(ctx, id, b.principal, reason)
}

// Delegate создает хэндл для суб-принципала: его права — пересечение прав
// всей цепочки, политики каждого звена проверяются конъюнктивно.
func (b *BoundService) Delegate(id string, roles ...string) (*BoundService, error) {
	if atomic.LoadInt32(&b.unbound) == 1 {
		return nil, domain.ErrNotBound
	}
	return Bind(b.core, b.principal.WithDelegate(id, roles...)), nil
}

// Unbind закрывает хэндл. Идемпотентен; дальнейшие вызовы через этот хэндл
// возвращают ErrNotBound. Уже запущенные Invoke довисают до своего исхода.
func (b *BoundService) Unbind() {
	atomic.StoreInt32(&b.unbound, 1)
}

// Principal возвращает принципала, к которому привязан хэндл.
func (b *BoundService) Principal() domain.Principal {
	return b.principal
}
