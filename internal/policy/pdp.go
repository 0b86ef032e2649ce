package policy

import (
	"fmt"

	"github.com/ansersec/anser/internal/domain"

	"go.uber.org/zap"
)

// DecisionKind — исход проверки политики.
type DecisionKind int

const (
	DecisionDeny DecisionKind = iota // Zero Trust: нулевое значение — запрет
	DecisionAllow
	DecisionRequireAttestation
)

// Decision — результат PDP для одного вызова.
type Decision struct {
	Kind   DecisionKind
	Reason string

	// Requirements — сработавшие требования аттестации в порядке правил
	// (первое неудовлетворенное выигрывает; шлюз разрешает их последовательно).
	Requirements []Requirement
}

// CompiledPolicy — документ политики после разбора: условия аттестаций
// превращены в AST, спеки подвязаны к ключам.
type CompiledPolicy struct {
	Doc  domain.PolicyDocument
	Reqs []Requirement
}

// Compile разбирает документ. Документ с нечитаемым условием или с
// требованием без спеки бракуется целиком: недопарсенная политика — это
// отсутствующая политика, а отсутствующая политика — это Deny.
func Compile(doc domain.PolicyDocument) (*CompiledPolicy, error) {
	reqs := make([]Requirement, 0, len(doc.Attestations))
	for _, raw := range doc.Attestations {
		key, cond, err := ParseRequirement(raw)
		if err != nil {
			return nil, err
		}
		spec, ok := doc.Constraints.Attestations[key]
		if !ok {
			return nil, fmt.Errorf("attestation %q has no constraints.attestations entry", key)
		}
		if spec.ApprovalCriteria == "" {
			return nil, fmt.Errorf("attestation %q has empty approval_criteria", key)
		}
		reqs = append(reqs, Requirement{Key: key, Cond: cond, Spec: spec})
	}
	return &CompiledPolicy{Doc: doc, Reqs: reqs}, nil
}

// Provider отдает скомпилированную политику принципала (PDP не знает,
// лежит она в памяти, в Postgres или зашита статически).
type Provider interface {
	PolicyFor(principalID, app string) (*CompiledPolicy, bool)
}

// PDP — Policy Decision Point. Синхронный и неблокирующий: вся работа
// идет по RAM-кэшу, никакого I/O в Hot Path.
type PDP struct {
	policies Provider
	logger   *zap.Logger
}

func NewPDP(policies Provider, logger *zap.Logger) *PDP {
	return &PDP{policies: policies, logger: logger.Named("pdp")}
}

// Decide оценивает вызов против политик всей цепочки делегирования.
// Каждый документ цепочки должен пропустить запрос — пересечение прав
// может только сужаться, никогда не расширяться.
func (p *PDP) Decide(principal domain.Principal, resource string, params map[string]any) Decision {
	var triggered []Requirement
	seen := make(map[string]struct{})

	for _, link := range principal.Chain() {
		pol, ok := p.policies.PolicyFor(link.ID, link.App)
		if !ok {
			// Нет политики — нет доступа (Default Deny)
			return Decision{Kind: DecisionDeny,
				Reason: fmt.Sprintf("no policy configured for principal %s", link.ID)}
		}

		d := evaluateDocument(pol, resource, params)
		if d.Kind == DecisionDeny {
			return d
		}
		for _, req := range d.Requirements {
			if _, dup := seen[req.Key]; dup {
				continue
			}
			seen[req.Key] = struct{}{}
			triggered = append(triggered, req)
		}
	}

	if len(triggered) > 0 {
		return Decision{
			Kind:         DecisionRequireAttestation,
			Reason:       fmt.Sprintf("attestation %q required", triggered[0].Key),
			Requirements: triggered,
		}
	}
	return Decision{Kind: DecisionAllow}
}

// evaluateDocument — порядок проверок фиксирован контрактом:
// denylist -> allowlist -> ограничения параметров -> условия аттестаций.
func evaluateDocument(pol *CompiledPolicy, resource string, params map[string]any) Decision {
	for _, pattern := range pol.Doc.DeniedResources {
		if matchPattern(pattern, resource) {
			return Decision{Kind: DecisionDeny,
				Reason: fmt.Sprintf("resource %s is explicitly denied", resource)}
		}
	}

	allowed := false
	for _, pattern := range pol.Doc.Resources {
		if matchPattern(pattern, resource) {
			allowed = true
			break
		}
	}
	if !allowed {
		return Decision{Kind: DecisionDeny,
			Reason: fmt.Sprintf("resource %s not permitted", resource)}
	}

	if reason := checkParameters(pol.Doc.Constraints, params); reason != "" {
		return Decision{Kind: DecisionDeny, Reason: reason}
	}

	var triggered []Requirement
	for _, req := range pol.Reqs {
		if req.Triggered(params) {
			triggered = append(triggered, req)
		}
	}
	if len(triggered) > 0 {
		return Decision{Kind: DecisionRequireAttestation, Requirements: triggered}
	}
	return Decision{Kind: DecisionAllow}
}

// checkParameters возвращает причину отказа с именем конкретного поля
// (пустая строка = параметры в норме).
func checkParameters(c domain.Constraints, params map[string]any) string {
	for name, denied := range c.DeniedParameters {
		val, ok := params[name]
		if !ok {
			continue
		}
		for _, dv := range denied {
			if valueEqual(val, dv) {
				return fmt.Sprintf("parameter %s has denied value %v", name, val)
			}
		}
	}

	for name, rule := range c.Parameters {
		val, ok := params[name]
		if !ok {
			continue
		}

		if len(rule.Values) > 0 {
			found := false
			for _, av := range rule.Values {
				if valueEqual(val, av) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("parameter %s value %v is not in allowed set", name, val)
			}
		}

		if rule.Min != nil || rule.Max != nil {
			num, ok := toFloat(val)
			if !ok {
				return fmt.Sprintf("parameter %s must be numeric", name)
			}
			if rule.Min != nil && num < *rule.Min {
				return fmt.Sprintf("parameter %s below minimum (%v < %v)", name, num, *rule.Min)
			}
			if rule.Max != nil && num > *rule.Max {
				return fmt.Sprintf("parameter %s above maximum (%v > %v)", name, num, *rule.Max)
			}
		}
	}
	return ""
}

// valueEqual сравнивает значение параметра с литералом из политики.
// Числа сравниваем через float64: JSON не различает 500 и 500.0.
func valueEqual(a, b any) bool {
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

// matchPattern — минимальный glob: '*' матчит любую подстроку (включая
// пустую), остальные символы — буквально. Разделители (':' и '/') в именах
// ресурсов специальной роли не играют.
func matchPattern(pattern, s string) bool {
	px, sx := 0, 0
	star, mark := -1, 0
	for sx < len(s) {
		switch {
		case px < len(pattern) && (pattern[px] == s[sx]):
			px++
			sx++
		case px < len(pattern) && pattern[px] == '*':
			star = px
			mark = sx
			px++
		case star != -1:
			px = star + 1
			mark++
			sx = mark
		default:
			return false
		}
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
