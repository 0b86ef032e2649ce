package domain

import (
	"errors"
	"fmt"
)

// Kind — закрытый перечень типов отказов шлюза.
// Вызывающая сторона ветвится по Kind, а не по подстрокам в тексте ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	KindDenied              // Политика запретила вызов (ретрай бесполезен)
	KindAttestationRequired // Внутренний сигнал: нужен аттестат (наружу не отдается)
	KindAttestationTimeout  // Не дождались решения (можно повторить позже)
	KindAttestationDenied   // Решение "отказать" (терминально, не повторять)
	KindUnauthorized        // У резолвера нет прав на approve/deny
	KindNotBound            // Вызов через отвязанный handle
	KindInvalidState        // Проигравший гонку за двойное решение
)

func (k Kind) String() string {
	switch k {
	case KindDenied:
		return "denied"
	case KindAttestationRequired:
		return "attestation_required"
	case KindAttestationTimeout:
		return "attestation_timeout"
	case KindAttestationDenied:
		return "attestation_denied"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotBound:
		return "not_bound"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error — типизированная ошибка шлюза.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// E — короткий конструктор для типизированных ошибок.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf достает Kind из цепочки обернутых ошибок.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// Сентинелы для самых частых случаев (сравниваются по Kind, не по указателю)
var (
	ErrNotBound     = &Error{Kind: KindNotBound, Reason: "service handle is not bound"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Reason: "attestation already resolved"}
)

// Is позволяет errors.Is(err, domain.ErrNotBound) работать по Kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}
