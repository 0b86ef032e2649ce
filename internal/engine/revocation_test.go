package engine

import (
	"testing"

	"go.uber.org/zap"
)

func TestRevocationSignalParsing(t *testing.T) {
	m := NewRevocationManager(nil, zap.NewNop())

	m.handleSignal("alice:on")
	if !m.IsRevoked("alice") {
		t.Fatal("'alice:on' must revoke alice")
	}

	m.handleSignal("alice:off")
	if m.IsRevoked("alice") {
		t.Fatal("'alice:off' must restore alice")
	}

	// Совместимость с ручными publish из redis-cli
	m.handleSignal("bob:true")
	if !m.IsRevoked("bob") {
		t.Fatal("'bob:true' must revoke bob")
	}

	// Мусорный сигнал не трогает состояние
	m.handleSignal("no-colon-here")
	m.handleSignal(":on")
	if !m.IsRevoked("bob") || m.IsRevoked("") {
		t.Fatal("malformed signals must be ignored")
	}

	// Неизвестное состояние трактуется как снятие отзыва
	m.handleSignal("bob:whatever")
	if m.IsRevoked("bob") {
		t.Fatal("unknown state must clear revocation")
	}
}

func TestRevocationResyncReplacesState(t *testing.T) {
	m := NewRevocationManager(nil, zap.NewNop())

	m.replaceAll([]string{"alice", "bob"})
	if !m.IsRevoked("alice") || !m.IsRevoked("bob") {
		t.Fatal("replaceAll must install the full set")
	}

	// Ресинхронизация — замена, не слияние: снятые отзывы не залипают
	m.replaceAll([]string{"bob"})
	if m.IsRevoked("alice") {
		t.Fatal("resync must drop principals absent from the snapshot")
	}
	if !m.IsRevoked("bob") {
		t.Fatal("resync must keep principals present in the snapshot")
	}
}
