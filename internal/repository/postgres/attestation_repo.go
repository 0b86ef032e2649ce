package postgres

/*
Файл attestation_repo.go — персистентный слой реестра аттестатов.
Авторитетное состояние живет в RAM шлюза, но каждая запись проходит через
таблицу attestations: консоль (отдельный процесс) читает отсюда очередь
pending-запросов, а условный UPDATE решает межпроцессные гонки за решение.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ansersec/anser/internal/domain"
	"github.com/jackc/pgx/v5"
)

// InsertAttestation создает запись о новом pending-запросе.
func (r *Repo) Insert(ctx context.Context, att domain.Attestation) error {
	query := `
		INSERT INTO attestations
			(id, key, for_principal, resource, approval_criteria,
			 one_time, time_to_live_sec, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		att.ID, att.Key, att.ForPrincipal, att.Resource, att.ApprovalCriteria,
		att.OneTime, int(att.TimeToLive/time.Second), string(att.Status), att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert attestation: %w", err)
	}
	return nil
}

// UpdateStatus атомарно выполняет условный переход from -> to.
// WHERE status = $from предотвращает Double Decision: из двух гонящихся
// решений ровно одно увидит RowsAffected = 1, второе получит false.
func (r *Repo) UpdateStatus(ctx context.Context, id string,
	from, to domain.AttestationStatus,
	resolver, reason string, resolvedAt time.Time) (bool, error) {

	query := `
		UPDATE attestations
		SET status = $1,
		    resolver_principal = $2,
		    reason = $3,
		    resolved_at = COALESCE(resolved_at, $4)
		WHERE id = $5 AND status = $6`

	ct, err := r.pool.Exec(ctx, query,
		string(to), resolver, reason, resolvedAt, id, string(from))
	if err != nil {
		return false, fmt.Errorf("postgres: failed to update attestation status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// GetAttestationByID — детали записи для консоли.
func (r *Repo) GetAttestationByID(ctx context.Context, id string) (*domain.Attestation, error) {
	query := `
		SELECT id, key, for_principal, resource, approval_criteria,
		       one_time, time_to_live_sec, status, created_at,
		       resolved_at, resolver_principal, reason
		FROM attestations WHERE id = $1`

	att, err := scanAttestation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // 404 решает хендлер
		}
		return nil, fmt.Errorf("postgres: failed to get attestation: %w", err)
	}
	return att, nil
}

// FindAttestations — очередь решений для консоли (фильтр по статусу).
func (r *Repo) FindAttestations(ctx context.Context, status domain.AttestationStatus) ([]*domain.Attestation, error) {
	query := `
		SELECT id, key, for_principal, resource, approval_criteria,
		       one_time, time_to_live_sec, status, created_at,
		       resolved_at, resolver_principal, reason
		FROM attestations`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query attestations: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Attestation, 0)
	for rows.Next() {
		att, err := scanAttestation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan attestation: %w", err)
		}
		results = append(results, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttestation(row rowScanner) (*domain.Attestation, error) {
	var att domain.Attestation
	var ttlSec int
	var resolvedAt sql.NullTime
	var resolver, reason sql.NullString

	err := row.Scan(
		&att.ID, &att.Key, &att.ForPrincipal, &att.Resource, &att.ApprovalCriteria,
		&att.OneTime, &ttlSec, &att.Status, &att.CreatedAt,
		&resolvedAt, &resolver, &reason,
	)
	if err != nil {
		return nil, err
	}

	att.TimeToLive = time.Duration(ttlSec) * time.Second
	if resolvedAt.Valid {
		t := resolvedAt.Time
		att.ResolvedAt = &t
	}
	if resolver.Valid {
		att.ResolverPrincipal = resolver.String
	}
	if reason.Valid {
		att.Reason = reason.String
	}
	return &att, nil
}
