package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SequenceRepository owns the per tenant, year and prefix certificate counters.
type SequenceRepository struct {
	db *sqlx.DB
}

// NewSequenceRepository constructs the repository.
func NewSequenceRepository(db *sqlx.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

const nextSequenceQuery = `INSERT INTO certificate_sequences (tenant_id, year, prefix, value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, year, prefix) DO UPDATE SET value = certificate_sequences.value + 1
RETURNING value`

// Next atomically increments and returns the counter. Run it inside the transaction that
// assigns the number so a rollback gives the value back.
func (r *SequenceRepository) Next(ctx context.Context, q sqlx.QueryerContext, tenantID string, year int, prefix string) (int64, error) {
	if q == nil {
		q = r.db
	}
	var value int64
	if err := sqlx.GetContext(ctx, q, &value, nextSequenceQuery, tenantID, year, prefix); err != nil {
		return 0, fmt.Errorf("next certificate sequence: %w", err)
	}
	return value, nil
}

// Current returns the last issued value, or zero when the counter does not exist yet.
func (r *SequenceRepository) Current(ctx context.Context, tenantID string, year int, prefix string) (int64, error) {
	const query = `SELECT value FROM certificate_sequences WHERE tenant_id = $1 AND year = $2 AND prefix = $3`
	var value int64
	if err := r.db.GetContext(ctx, &value, query, tenantID, year, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read certificate sequence: %w", err)
	}
	return value, nil
}
