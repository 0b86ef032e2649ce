package infra

import "testing"

func TestWarmupLockKeysAreNamespaced(t *testing.T) {
	if got := GetWarmupLockKey("revoked"); got != "anser:lock:warmup:revoked" {
		t.Fatalf("lock key = %q, want %q", got, "anser:lock:warmup:revoked")
	}
	// Разные ресурсы греются под разными локами
	if GetWarmupLockKey("revoked") == GetWarmupLockKey("policies") {
		t.Fatal("lock keys for different resources must not collide")
	}
}
