package policy

import (
	"testing"

	"github.com/ansersec/anser/internal/domain"

	"go.uber.org/zap"
)

func tradingDoc(principal string) domain.PolicyDocument {
	min := 0.0
	max := 100000.0
	return domain.PolicyDocument{
		Principal:       principal,
		Resources:       []string{"tool:trading/*", "tool:search/web_search"},
		DeniedResources: []string{"tool:admin/*"},
		Attestations:    []string{"trade-approved::{params.amount > 10000}"},
		Constraints: domain.Constraints{
			Parameters: map[string]domain.ParameterRule{
				"amount": {Min: &min, Max: &max},
				"symbol": {Values: []any{"AAPL", "GOOG"}},
			},
			DeniedParameters: map[string][]any{"action": {"short"}},
			Attestations: map[string]domain.AttestationSpec{
				"trade-approved": {ApprovalCriteria: "role:manager", TimeoutSec: 300, OneTime: true},
			},
		},
	}
}

func newTestPDP(t *testing.T, docs ...domain.PolicyDocument) *PDP {
	t.Helper()
	provider, err := NewStaticProvider(docs...)
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	return NewPDP(provider, zap.NewNop())
}

func TestPDPDecide(t *testing.T) {
	pdp := newTestPDP(t, tradingDoc("alice"))
	alice := domain.Principal{ID: "alice"}

	tests := []struct {
		name     string
		resource string
		params   map[string]any
		want     DecisionKind
	}{
		{name: "allowed small trade", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 500.0, "symbol": "AAPL"}, want: DecisionAllow},
		{name: "large trade needs attestation", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 50000.0, "symbol": "AAPL"}, want: DecisionRequireAttestation},
		{name: "resource not in allowlist", resource: "tool:calculator",
			params: nil, want: DecisionDeny},
		{name: "denylist beats allowlist", resource: "tool:admin/delete_user",
			params: nil, want: DecisionDeny},
		{name: "amount above max", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 200000.0, "symbol": "AAPL"}, want: DecisionDeny},
		{name: "symbol outside allowed set", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 100.0, "symbol": "TSLA"}, want: DecisionDeny},
		{name: "denied parameter value", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 100.0, "symbol": "AAPL", "action": "short"}, want: DecisionDeny},
		{name: "int amount triggers like float", resource: "tool:trading/execute_trade",
			params: map[string]any{"amount": 50000, "symbol": "GOOG"}, want: DecisionRequireAttestation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := pdp.Decide(alice, tt.resource, tt.params)
			if d.Kind != tt.want {
				t.Fatalf("Decide(%s, %v) = %v (%s), want %v", tt.resource, tt.params, d.Kind, d.Reason, tt.want)
			}
			if tt.want == DecisionRequireAttestation && len(d.Requirements) == 0 {
				t.Fatal("RequireAttestation decision must carry requirements")
			}
		})
	}
}

func TestPDPDefaultDeny(t *testing.T) {
	pdp := newTestPDP(t, tradingDoc("alice"))

	d := pdp.Decide(domain.Principal{ID: "mallory"}, "tool:trading/execute_trade",
		map[string]any{"amount": 1.0, "symbol": "AAPL"})
	if d.Kind != DecisionDeny {
		t.Fatalf("principal without policy must be denied, got %v", d.Kind)
	}
}

func TestPDPDelegationChainShrinksRights(t *testing.T) {
	rootDoc := tradingDoc("root")
	subDoc := domain.PolicyDocument{
		Principal: "sub",
		Resources: []string{"tool:search/web_search"}, // уже, чем у root
	}
	pdp := newTestPDP(t, rootDoc, subDoc)

	root := domain.Principal{ID: "root"}
	sub := root.WithDelegate("sub")

	// Разрешено обоим звеньям
	if d := pdp.Decide(sub, "tool:search/web_search", nil); d.Kind != DecisionAllow {
		t.Fatalf("resource allowed by whole chain must pass, got %v (%s)", d.Kind, d.Reason)
	}

	// Разрешено root, но не делегату: права не расширяются
	if d := pdp.Decide(sub, "tool:trading/execute_trade",
		map[string]any{"amount": 1.0, "symbol": "AAPL"}); d.Kind != DecisionDeny {
		t.Fatalf("resource outside delegate policy must be denied, got %v", d.Kind)
	}

	// Делегат без политики = Deny для всей цепочки
	orphan := root.WithDelegate("orphan")
	if d := pdp.Decide(orphan, "tool:search/web_search", nil); d.Kind != DecisionDeny {
		t.Fatalf("delegate without policy must be denied, got %v", d.Kind)
	}
}

func TestPDPRequirementsKeepRuleOrder(t *testing.T) {
	doc := domain.PolicyDocument{
		Principal: "alice",
		Resources: []string{"tool:trading/*"},
		Attestations: []string{
			"first-gate::{params.amount > 10}",
			"second-gate::{params.amount > 100}",
		},
		Constraints: domain.Constraints{
			Attestations: map[string]domain.AttestationSpec{
				"first-gate":  {ApprovalCriteria: "*"},
				"second-gate": {ApprovalCriteria: "*"},
			},
		},
	}
	pdp := newTestPDP(t, doc)

	d := pdp.Decide(domain.Principal{ID: "alice"}, "tool:trading/execute_trade",
		map[string]any{"amount": 500.0})
	if d.Kind != DecisionRequireAttestation {
		t.Fatalf("expected RequireAttestation, got %v", d.Kind)
	}
	if len(d.Requirements) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(d.Requirements))
	}
	if d.Requirements[0].Key != "first-gate" || d.Requirements[1].Key != "second-gate" {
		t.Fatalf("requirements out of rule order: %v, %v", d.Requirements[0].Key, d.Requirements[1].Key)
	}
}

func TestCompileRejectsBrokenDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  domain.PolicyDocument
	}{
		{
			name: "unparseable condition",
			doc: domain.PolicyDocument{
				Attestations: []string{"gate::{params.x @@ 5}"},
				Constraints: domain.Constraints{Attestations: map[string]domain.AttestationSpec{
					"gate": {ApprovalCriteria: "*"},
				}},
			},
		},
		{
			name: "missing attestation spec",
			doc: domain.PolicyDocument{
				Attestations: []string{"gate::{params.x > 5}"},
			},
		},
		{
			name: "empty approval criteria",
			doc: domain.PolicyDocument{
				Attestations: []string{"gate"},
				Constraints: domain.Constraints{Attestations: map[string]domain.AttestationSpec{
					"gate": {},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.doc); err == nil {
				t.Fatal("expected compile error, got nil")
			}
		})
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"tool:admin/*", "tool:admin/delete_user", true},
		{"tool:admin/*", "tool:admin/", true},
		{"tool:admin/*", "tool:adm", false},
		{"*", "anything", true},
		{"tool:*/execute", "tool:trading/execute", true},
		{"tool:*/execute", "tool:trading/query", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "acb", false},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.s); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
