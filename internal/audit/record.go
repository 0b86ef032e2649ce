package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Record — неизменяемая, подписанная запись журнала решений.
// Append-only: записи никогда не обновляются и не удаляются.
type Record struct {
	ID      string `json:"id"`
	TraceID string `json:"trace_id"`

	Action    string `json:"action"`    // invoke, attestation_pending, attestation_accessed, ...
	Target    string `json:"target"`    // имя ресурса/инструмента
	Outcome   string `json:"outcome"`   // success, denied, failed, timeout, ...
	Principal string `json:"principal"` // кто вызывал
	Reason    string `json:"reason,omitempty"`

	// PayloadDigest — SHA-256 канонизированных параметров вызова.
	// Сами параметры в журнал не пишем: дайджеста достаточно для
	// комплаенс-сверки, а чувствительные данные не растекаются по логам.
	PayloadDigest string `json:"payload_digest"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`

	// Signature проставляется Signer-ом перед записью в хранилище
	Signature string `json:"signature,omitempty"`
}

// Исходы для поля Outcome
const (
	OutcomeSuccess  = "success"
	OutcomeDenied   = "denied"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "attestation_timeout"
	OutcomePending  = "attestation_pending"
	OutcomeRevoked  = "principal_revoked"
	OutcomeAccessed = "attestation_accessed"
)

// DigestPayload канонизирует параметры (ключи в детерминированном порядке)
// и возвращает hex(SHA-256). Одинаковый payload == одинаковый дайджест,
// независимо от порядка ключей в исходной мапе.
func DigestPayload(params map[string]any) string {
	h := sha256.New()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		// json.Marshal для map[string]any сортирует ключи вложенных мап,
		// поэтому канонизация вглубь получается бесплатно
		vb, _ := json.Marshal(params[k])
		h.Write([]byte(k))
		h.Write([]byte{':'})
		h.Write(vb)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// signingBytes — байты, которые подписываются: запись без поля Signature.
func (r Record) signingBytes() []byte {
	r.Signature = ""
	b, _ := json.Marshal(r)
	return b
}
