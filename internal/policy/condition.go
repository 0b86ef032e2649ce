package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ansersec/anser/internal/domain"
)

// Comparator — оператор сравнения в условии аттестации.
type Comparator int

const (
	OpEQ Comparator = iota
	OpNE
	OpGT
	OpGE
	OpLT
	OpLE
)

func (c Comparator) String() string {
	switch c {
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	}
	return "?"
}

// Condition — маленький tagged-AST вместо встраивания интерпретатора:
// путь до поля, оператор, литерал. Ничего больше условию аттестации не нужно.
type Condition struct {
	Field   []string // путь в параметрах запроса, без префикса "params"
	Op      Comparator
	Literal any // float64 | string | bool
}

// Requirement — одно требование аттестации из политики:
// ключ + опциональное условие + правила работы аттестата.
type Requirement struct {
	Key  string
	Cond *Condition // nil = аттестат нужен всегда
	Spec domain.AttestationSpec
}

// Triggered сообщает, активировалось ли требование на данных параметрах.
func (r Requirement) Triggered(params map[string]any) bool {
	if r.Cond == nil {
		return true
	}
	return r.Cond.Eval(params)
}

// ParseRequirement разбирает строку формата политики:
//
//	"trade-approved::{params.amount > 10000}"
//	"capability:web_search"                    (без условия — всегда)
func ParseRequirement(s string) (key string, cond *Condition, err error) {
	s = strings.TrimSpace(s)
	key, expr, found := strings.Cut(s, "::")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil, fmt.Errorf("attestation requirement has empty key: %q", s)
	}
	if !found {
		return key, nil, nil
	}

	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "{")
	expr = strings.TrimSuffix(expr, "}")

	cond, err = parseCondition(expr)
	if err != nil {
		return "", nil, fmt.Errorf("attestation %q: %w", key, err)
	}
	return key, cond, nil
}

// Порядок важен: сначала двухсимвольные операторы
var comparators = []struct {
	token string
	op    Comparator
}{
	{">=", OpGE}, {"<=", OpLE}, {"==", OpEQ}, {"!=", OpNE}, {">", OpGT}, {"<", OpLT},
}

func parseCondition(expr string) (*Condition, error) {
	for _, c := range comparators {
		left, right, found := strings.Cut(expr, c.token)
		if !found {
			continue
		}

		field, err := parseFieldPath(strings.TrimSpace(left))
		if err != nil {
			return nil, err
		}
		lit, err := parseLiteral(strings.TrimSpace(right))
		if err != nil {
			return nil, err
		}

		if _, isNum := lit.(float64); !isNum {
			switch c.op {
			case OpGT, OpGE, OpLT, OpLE:
				return nil, fmt.Errorf("ordering comparator %s requires numeric literal", c.token)
			}
		}
		return &Condition{Field: field, Op: c.op, Literal: lit}, nil
	}
	return nil, fmt.Errorf("no comparator found in condition %q", expr)
}

func parseFieldPath(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}
	parts := strings.Split(s, ".")
	// Принятый в политиках префикс "params." — косметика, отрезаем
	if parts[0] == "params" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("field path %q names no parameter", s)
	}
	return parts, nil
}

func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty literal")
	}
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1], nil
		}
	}
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("bad literal %q: not a quoted string, bool or number", s)
	}
	return f, nil
}

// Eval вычисляет условие над типизированной мапой параметров.
// Отсутствующее поле или несовпадение типов = false (условие не сработало).
func (c *Condition) Eval(params map[string]any) bool {
	val, ok := lookupField(params, c.Field)
	if !ok {
		return false
	}

	switch lit := c.Literal.(type) {
	case float64:
		num, ok := toFloat(val)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEQ:
			return num == lit
		case OpNE:
			return num != lit
		case OpGT:
			return num > lit
		case OpGE:
			return num >= lit
		case OpLT:
			return num < lit
		case OpLE:
			return num <= lit
		}
	case string:
		str, ok := val.(string)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEQ:
			return str == lit
		case OpNE:
			return str != lit
		}
	case bool:
		b, ok := val.(bool)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEQ:
			return b == lit
		case OpNE:
			return b != lit
		}
	}
	return false
}

func lookupField(params map[string]any, path []string) (any, bool) {
	var cur any = params
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toFloat нормализует числовые типы: JSON дает float64, прямые вызовы из Go — int
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
