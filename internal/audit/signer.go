package audit

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer подписывает записи журнала. Продовый подписант (HSM/KMS) живет
// снаружи и реализует этот же интерфейс.
type Signer interface {
	Sign(r Record) (signature string, err error)
	Verify(r Record) bool
}

// Ed25519Signer — локальная реализация для шлюза и тестов.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// GenerateSigner создает подписанта с эфемерным ключом — для разработки,
// когда ключ не задан в конфиге.
func GenerateSigner() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return NewEd25519Signer(priv), nil
}

// NewSignerFromSeedHex восстанавливает подписанта из hex-кодированного
// 32-байтового seed (так ключ задается в конфиге/секрете).
func NewSignerFromSeedHex(seedHex string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func (s *Ed25519Signer) Sign(r Record) (string, error) {
	sig := ed25519.Sign(s.priv, r.signingBytes())
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) Verify(r Record) bool {
	sig, err := hex.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, r.signingBytes(), sig)
}

// NopSigner — для тестов, которым подпись не важна.
type NopSigner struct{}

func (NopSigner) Sign(Record) (string, error) { return "", nil }
func (NopSigner) Verify(Record) bool          { return true }
