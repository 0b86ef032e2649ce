package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSatisfiesCriteria(t *testing.T) {
	bob := Principal{ID: "bob", Roles: []string{"manager", "auditor"}}

	tests := []struct {
		criteria string
		want     bool
	}{
		{"role:manager", true},
		{"role:intern", false},
		{"user:bob", true},
		{"user:alice", false},
		{"*", true},
		{"", false},
		{"manager", true}, // голая роль — старый формат
		{" role:manager ", true},
	}
	for _, tt := range tests {
		if got := bob.SatisfiesCriteria(tt.criteria); got != tt.want {
			t.Errorf("SatisfiesCriteria(%q) = %v, want %v", tt.criteria, got, tt.want)
		}
	}
}

func TestAttestationTransitions(t *testing.T) {
	a := Attestation{Status: AttestationPending}
	for _, next := range []AttestationStatus{AttestationApproved, AttestationDenied, AttestationExpired} {
		if err := a.CanTransitionTo(next); err != nil {
			t.Errorf("pending -> %s must be allowed, got %v", next, err)
		}
	}
	if err := a.CanTransitionTo(AttestationPending); err == nil {
		t.Error("pending -> pending must be rejected")
	}
	// used достижим только из approved: pending-грант нечего потреблять
	if err := a.CanTransitionTo(AttestationUsed); !errors.Is(err, ErrInvalidState) {
		t.Errorf("pending -> used must be InvalidState, got %v", err)
	}

	resolved := Attestation{Status: AttestationApproved}
	if err := resolved.CanTransitionTo(AttestationUsed); err != nil {
		t.Errorf("approved -> used must be allowed, got %v", err)
	}
	if err := resolved.CanTransitionTo(AttestationDenied); !errors.Is(err, ErrInvalidState) {
		t.Errorf("approved -> denied must be InvalidState, got %v", err)
	}

	used := Attestation{Status: AttestationUsed}
	if err := used.CanTransitionTo(AttestationApproved); err == nil {
		t.Error("terminal status must not reactivate")
	}
}

func TestAttestationValidAt(t *testing.T) {
	now := time.Now()
	resolved := now.Add(-time.Minute)

	fresh := Attestation{Status: AttestationApproved, ResolvedAt: &resolved, TimeToLive: time.Hour}
	if !fresh.ValidAt(now) {
		t.Error("grant within TTL must be valid")
	}

	stale := Attestation{Status: AttestationApproved, ResolvedAt: &resolved, TimeToLive: 30 * time.Second}
	if stale.ValidAt(now) {
		t.Error("grant past TTL must be invalid")
	}

	forever := Attestation{Status: AttestationApproved, ResolvedAt: &resolved}
	if !forever.ValidAt(now.Add(24 * time.Hour)) {
		t.Error("grant without TTL must not expire")
	}

	if (&Attestation{Status: AttestationPending}).ValidAt(now) {
		t.Error("pending record must not pass calls")
	}
}

func TestErrorKinds(t *testing.T) {
	err := E(KindAttestationTimeout, "no decision within %s", "5m")
	if KindOf(err) != KindAttestationTimeout {
		t.Fatalf("KindOf = %v, want KindAttestationTimeout", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("foreign errors must map to KindUnknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("nil must map to KindUnknown")
	}

	// errors.Is сверяет по Kind: любые две ошибки одного вида совпадают
	if !errors.Is(E(KindInvalidState, "a"), ErrInvalidState) {
		t.Fatal("same-kind errors must match via errors.Is")
	}
	if errors.Is(E(KindDenied, "a"), ErrInvalidState) {
		t.Fatal("different kinds must not match")
	}
}
