package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ansersec/anser/internal/audit"
)

// WriteBatch — пакетная вставка журнала решений. Журнал append-only:
// никаких UPDATE/DELETE по таблице audit_log не существует.
func (r *Repo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_log
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		vals = append(vals,
			rec.ID, rec.TraceID, rec.Action, rec.Target, rec.Outcome,
			rec.Principal, rec.Reason, rec.PayloadDigest,
			rec.DurationMs, rec.Timestamp, rec.Signature,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, trace_id, action, target, outcome, principal, reason, payload_digest, duration_ms, timestamp, signature) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FetchAuditLogs — постраничная выборка журнала для консоли.
func (r *Repo) FetchAuditLogs(ctx context.Context, principal string, since time.Time, limit int) ([]audit.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, trace_id, action, target, outcome, principal,
		       reason, payload_digest, duration_ms, timestamp, signature
		FROM audit_log
		WHERE timestamp >= $1`

	args := []interface{}{since}
	if principal != "" {
		query += " AND principal = $2"
		args = append(args, principal)
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit log: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Record, 0)
	for rows.Next() {
		var rec audit.Record
		if err := rows.Scan(
			&rec.ID, &rec.TraceID, &rec.Action, &rec.Target, &rec.Outcome,
			&rec.Principal, &rec.Reason, &rec.PayloadDigest,
			&rec.DurationMs, &rec.Timestamp, &rec.Signature,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
