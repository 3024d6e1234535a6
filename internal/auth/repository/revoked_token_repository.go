package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/db"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
)

// RevokedTokenRepository reads the revocation list written by the credential service.
type RevokedTokenRepository interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type PgRevokedTokenRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewPgRevokedTokenRepository(pool *pgxpool.Pool, log *logger.Logger) *PgRevokedTokenRepository {
	return &PgRevokedTokenRepository{pool: pool, log: log}
}

func (r *PgRevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var exists bool
	err := db.RetryWithBackoff(ctx, r.log, "check revoked token", db.DefaultRetryConfig, func() error {
		start := time.Now()
		row := r.pool.QueryRow(
			ctx,
			`SELECT EXISTS(
				SELECT 1 FROM revoked_tokens
				WHERE jti = $1 AND expires_at > NOW()
			)`,
			jti,
		)
		return db.HandleQueryError(row.Scan(&exists), nil, "check revoked token", start)
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}
