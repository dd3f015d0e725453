package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo bundles the per-aggregate pgx repositories over one pool. Each field
// satisfies its interface in store/repositories.
type Repo struct {
	db *pgxpool.Pool

	Orders        *OrderRepo
	Providers     *ProviderRepo
	Packages      *PackageRepo
	Notifications *NotificationRepo
	Attempts      *AttemptRepo
	APIKeys       *APIKeyRepo
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db:            db,
		Orders:        &OrderRepo{db: db},
		Providers:     &ProviderRepo{db: db},
		Packages:      &PackageRepo{db: db},
		Notifications: &NotificationRepo{db: db},
		Attempts:      &AttemptRepo{db: db},
		APIKeys:       &APIKeyRepo{db: db},
	}
}

// DB exposes the underlying pool for health checks.
func (r *Repo) DB() *pgxpool.Pool { return r.db }
