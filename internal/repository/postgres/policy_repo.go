package postgres

/*
Файл policy_repo.go отвечает за хранение и поставку документов политик.
Данный слой обеспечивает отделение долговременного хранения правил в PostgreSQL
от их мгновенной проверки в оперативной памяти шлюза.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansersec/anser/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (r *Repo) GetPolicyByID(ctx context.Context, id string) (*domain.StoredPolicy, error) {
	query := `
		SELECT id, principal, app, document, created_at, updated_at
		FROM policies
		WHERE id = $1`

	p := &domain.StoredPolicy{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Principal,
		&p.App,
		&p.Document,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Возвращаем nil для 404 в хендлере
		}
		return nil, err
	}
	return p, nil
}

// GetAllPolicies выполняет "холодную загрузку" всего набора активных политик при старте.
func (r *Repo) GetAllPolicies(ctx context.Context) ([]domain.StoredPolicy, error) {
	query := `SELECT id, principal, app, document, created_at, updated_at FROM policies`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.StoredPolicy
	for rows.Next() {
		var p domain.StoredPolicy
		if err := rows.Scan(&p.ID, &p.Principal, &p.App, &p.Document, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// CreatePolicy создает новую запись.
// Позволяет задавать principal = '*' для глобальных правил.
func (r *Repo) CreatePolicy(ctx context.Context, p *domain.StoredPolicy) error {
	query := `
		INSERT INTO policies (id, principal, app, document, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW(), NOW())`

	_, err := r.pool.Exec(ctx, query, p.Principal, p.App, p.Document)
	if err != nil {
		return fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return nil
}

// UpdatePolicy обновляет документ существующей политики.
func (r *Repo) UpdatePolicy(ctx context.Context, p *domain.StoredPolicy) error {
	query := `
		UPDATE policies
		SET document = $1, updated_at = NOW()
		WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, p.Document, p.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}

// DeletePolicy удаляет политику по ID.
func (r *Repo) DeletePolicy(ctx context.Context, id string) error {
	query := `DELETE FROM policies WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}
