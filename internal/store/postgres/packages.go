package postgres

import (
	"context"
	"errors"
	"fmt"

	"esimflow/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PackageRepo reads the unified-package to provider-SKU mapping. The catalog
// is maintained by the (external) sync job; this core only resolves it.
type PackageRepo struct {
	db *pgxpool.Pool
}

func (r *PackageRepo) ResolveSKU(ctx context.Context, providerID int64, packageID string) (string, error) {
	var sku string
	err := r.db.QueryRow(ctx, `SELECT provider_sku FROM package_mappings
		WHERE provider_id=$1 AND package_id=$2`, providerID, packageID).Scan(&sku)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: provider %d package %s", repositories.ErrNoMapping, providerID, packageID)
	}
	if err != nil {
		return "", err
	}
	return sku, nil
}

func (r *PackageRepo) ProviderIDsForPackage(ctx context.Context, packageID string) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT provider_id FROM package_mappings WHERE package_id=$1`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
