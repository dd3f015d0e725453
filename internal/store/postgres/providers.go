package postgres

import (
	"context"
	"errors"

	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderRepo implements repositories.ProviderRepository and the registry's
// ConfigSource.
type ProviderRepo struct {
	db *pgxpool.Pool
}

const providerColumns = `id, slug, name, enabled, priority, pricing_margin, updated_at`

func (r *ProviderRepo) ListEnabled(ctx context.Context) ([]provider.Config, error) {
	rows, err := r.db.Query(ctx, `SELECT `+providerColumns+` FROM providers
		WHERE enabled=true ORDER BY priority, pricing_margin`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []provider.Config
	for rows.Next() {
		var c provider.Config
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Enabled, &c.Priority, &c.PricingMargin, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ProviderRepo) FindByID(ctx context.Context, id int64) (*provider.Config, error) {
	return r.scanProvider(r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id=$1`, id))
}

func (r *ProviderRepo) FindBySlug(ctx context.Context, slug string) (*provider.Config, error) {
	return r.scanProvider(r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE slug=$1`, slug))
}

// Update applies a partial admin edit; nil fields are left unchanged.
func (r *ProviderRepo) Update(ctx context.Context, id int64, enabled *bool, priority *int, margin *float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE providers
		SET enabled  = COALESCE($2, enabled),
		    priority = COALESCE($3, priority),
		    pricing_margin = COALESCE($4, pricing_margin),
		    updated_at = now()
		WHERE id=$1`, id, enabled, priority, margin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *ProviderRepo) scanProvider(row pgx.Row) (*provider.Config, error) {
	var c provider.Config
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.Enabled, &c.Priority, &c.PricingMargin, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
