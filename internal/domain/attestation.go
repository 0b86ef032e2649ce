package domain

import (
	"time"
)

// Статусы State Machine аттестата
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationApproved AttestationStatus = "approved"
	AttestationDenied   AttestationStatus = "denied"
	AttestationExpired  AttestationStatus = "expired"
	// AttestationUsed — терминальный подстатус для one_time грантов:
	// аттестат потреблен успешным вызовом и больше никого не пропускает.
	AttestationUsed AttestationStatus = "used"
)

// Attestation — центральная stateful-сущность шлюза: запись о том, что
// гейтнутый вызов ждет (или уже получил) человеческое подтверждение.
type Attestation struct {
	ID           string `json:"id"`
	Key          string `json:"key"`           // Логическое имя, напр. "trade-approved"
	ForPrincipal string `json:"for_principal"` // Чей вызов гейтим
	Resource     string `json:"resource"`      // Какой ресурс гейтим

	// ApprovalCriteria — предикат на резолвера ("role:manager", "user:bob")
	ApprovalCriteria string `json:"approval_criteria"`

	OneTime    bool          `json:"one_time"`
	TimeToLive time.Duration `json:"time_to_live,omitempty"` // 0 = бессрочно после approve

	Status            AttestationStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	ResolverPrincipal string            `json:"resolver_principal,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата: из pending — в любой
// терминальный статус, в used — только из approved; терминальные статусы
// не реактивируются.
func (a *Attestation) CanTransitionTo(next AttestationStatus) error {
	switch {
	case next == AttestationPending:
		return E(KindInvalidState, "cannot transition back to pending")
	case next == AttestationUsed:
		if a.Status != AttestationApproved {
			return ErrInvalidState
		}
	default:
		if a.Status != AttestationPending {
			return ErrInvalidState
		}
	}
	return nil
}

// ValidAt сообщает, пропускает ли аттестат вызов в момент now:
// статус approved, TTL не истек, one_time еще не потреблен.
func (a *Attestation) ValidAt(now time.Time) bool {
	if a.Status != AttestationApproved {
		return false
	}
	if a.TimeToLive > 0 && a.ResolvedAt != nil && now.After(a.ResolvedAt.Add(a.TimeToLive)) {
		return false
	}
	return true
}

// Terminal — решение принято (или запись протухла), ждать больше нечего.
func (a *Attestation) Terminal() bool {
	switch a.Status {
	case AttestationApproved, AttestationDenied, AttestationExpired, AttestationUsed:
		return true
	}
	return false
}
