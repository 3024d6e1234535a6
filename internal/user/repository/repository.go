package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/db"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

type Repository interface {
	FindAccount(ctx context.Context, id domain.ID) (domain.Account, error)
	UpdateLastSeenBatch(ctx context.Context, ids []domain.ID) error
}

type PgRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewPgRepository(pool *pgxpool.Pool, log *logger.Logger) *PgRepository {
	return &PgRepository{pool: pool, log: log}
}

// FindAccount returns commonerrors.ErrNotFound when no row matches.
func (r *PgRepository) FindAccount(ctx context.Context, id domain.ID) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var account domain.Account
	err := db.RetryWithBackoff(ctx, r.log, "find account", db.DefaultRetryConfig, func() error {
		start := time.Now()
		row := r.pool.QueryRow(
			ctx,
			`SELECT id, username, is_active, last_seen_at FROM users WHERE id = $1`,
			string(id),
		)
		err := row.Scan(&account.ID, &account.Username, &account.IsActive, &account.LastSeenAt)
		return db.HandleQueryError(err, commonerrors.ErrNotFound, "find account", start)
	})
	if err != nil {
		return domain.Account{}, err
	}

	return account, nil
}

func (r *PgRepository) UpdateLastSeenBatch(ctx context.Context, ids []domain.ID) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`UPDATE users SET last_seen_at = NOW() WHERE id = ANY($1::uuid[])`,
		raw,
	)
	return db.HandleExecError(err, "update last_seen batch", start)
}
