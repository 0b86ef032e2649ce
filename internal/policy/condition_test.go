package policy

import "testing"

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantNil bool // условие отсутствует
		wantErr bool
	}{
		{name: "key only", raw: "capability:web_search", wantKey: "capability:web_search", wantNil: true},
		{name: "numeric threshold", raw: "trade-approved::{params.amount > 10000}", wantKey: "trade-approved"},
		{name: "string equality", raw: "region-gate::{params.region == 'eu'}", wantKey: "region-gate"},
		{name: "bool literal", raw: "dry-run-gate::{params.live == true}", wantKey: "dry-run-gate"},
		{name: "no braces", raw: "gate::params.x >= 5", wantKey: "gate"},
		{name: "empty key", raw: "::{params.x > 1}", wantErr: true},
		{name: "no comparator", raw: "gate::{params.x}", wantErr: true},
		{name: "ordering on string literal", raw: "gate::{params.x > 'abc'}", wantErr: true},
		{name: "bad literal", raw: "gate::{params.x == abc}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, cond, err := ParseRequirement(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got key=%q cond=%+v", tt.raw, key, cond)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Fatalf("key = %q, want %q", key, tt.wantKey)
			}
			if tt.wantNil && cond != nil {
				t.Fatalf("expected nil condition, got %+v", cond)
			}
			if !tt.wantNil && cond == nil {
				t.Fatal("expected condition, got nil")
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		params map[string]any
		want   bool
	}{
		{name: "gt true", expr: "params.amount > 10000", params: map[string]any{"amount": 50000.0}, want: true},
		{name: "gt false on boundary", expr: "params.amount > 10000", params: map[string]any{"amount": 10000.0}, want: false},
		{name: "ge true on boundary", expr: "params.amount >= 10000", params: map[string]any{"amount": 10000.0}, want: true},
		{name: "int param normalized", expr: "params.amount > 10000", params: map[string]any{"amount": 50000}, want: true},
		{name: "missing field", expr: "params.amount > 10000", params: map[string]any{"other": 1.0}, want: false},
		{name: "string eq", expr: "params.region == 'eu'", params: map[string]any{"region": "eu"}, want: true},
		{name: "string ne", expr: "params.region != 'eu'", params: map[string]any{"region": "us"}, want: true},
		{name: "type mismatch", expr: "params.region == 'eu'", params: map[string]any{"region": 42.0}, want: false},
		{name: "nested path", expr: "params.order.total > 100", params: map[string]any{"order": map[string]any{"total": 250.0}}, want: true},
		{name: "nested path broken", expr: "params.order.total > 100", params: map[string]any{"order": "flat"}, want: false},
		{name: "bool eq", expr: "params.live == true", params: map[string]any{"live": true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := parseCondition(tt.expr)
			if err != nil {
				t.Fatalf("parseCondition(%q): %v", tt.expr, err)
			}
			if got := cond.Eval(tt.params); got != tt.want {
				t.Fatalf("Eval(%q, %v) = %v, want %v", tt.expr, tt.params, got, tt.want)
			}
		})
	}
}

func TestRequirementAlwaysTriggeredWithoutCondition(t *testing.T) {
	req := Requirement{Key: "always"}
	if !req.Triggered(nil) {
		t.Fatal("requirement without condition must trigger on any params")
	}
	if !req.Triggered(map[string]any{"x": 1}) {
		t.Fatal("requirement without condition must trigger on any params")
	}
}
