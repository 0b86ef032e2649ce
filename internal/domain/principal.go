package domain

import "strings"

// Principal — аутентифицированный вызывающий (пользователь или сервис-агент).
// Иммутабелен после создания: при смене identity создается новый Principal,
// существующий никогда не мутируется.
type Principal struct {
	ID    string   `json:"id"`
	App   string   `json:"app,omitempty"`
	Roles []string `json:"roles,omitempty"`

	// DelegatedFrom — контекст делегирования (supervisor -> sub-agent).
	// Политики всей цепочки проверяются конъюнктивно: права могут только сужаться.
	DelegatedFrom *Principal `json:"delegated_from,omitempty"`
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithDelegate возвращает нового принципала, действующего в контексте p.
func (p Principal) WithDelegate(id string, roles ...string) Principal {
	parent := p
	return Principal{ID: id, App: p.App, Roles: roles, DelegatedFrom: &parent}
}

// Chain разворачивает цепочку делегирования от вызывающего к корню.
func (p Principal) Chain() []Principal {
	chain := []Principal{p}
	for cur := p.DelegatedFrom; cur != nil; cur = cur.DelegatedFrom {
		chain = append(chain, *cur)
	}
	return chain
}

// SatisfiesCriteria проверяет предикат из approval_criteria:
//
//	"role:manager" — у принципала есть роль manager
//	"user:bob"     — принципал bob лично
//	"*"            — любой аутентифицированный
func (p Principal) SatisfiesCriteria(criteria string) bool {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" || criteria == "*" {
		return criteria == "*"
	}
	switch {
	case strings.HasPrefix(criteria, "role:"):
		return p.HasRole(strings.TrimPrefix(criteria, "role:"))
	case strings.HasPrefix(criteria, "user:"):
		return p.ID == strings.TrimPrefix(criteria, "user:")
	default:
		// Без префикса трактуем как роль (совместимость со старым форматом)
		return p.HasRole(criteria)
	}
}
