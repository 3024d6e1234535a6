package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/db"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

type ConversationRepository interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	IsAdmin(ctx context.Context, userID, conversationID string) (bool, error)
	AddParticipant(ctx context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type PgConversationRepository struct {
	q   db.Querier
	log *logger.Logger
}

func NewPgConversationRepository(q db.Querier, log *logger.Logger) *PgConversationRepository {
	return &PgConversationRepository{q: q, log: log}
}

const activeParticipantFilter = `
	FROM conversation_participants cp
	JOIN conversations c ON c.id = cp.conversation_id
	WHERE cp.conversation_id = $1
	  AND cp.left_at IS NULL
	  AND c.is_active`

func (r *PgConversationRepository) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var exists bool
	err := db.RetryWithBackoff(ctx, r.log, "check participant", db.DefaultRetryConfig, func() error {
		start := time.Now()
		row := r.q.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1`+activeParticipantFilter+` AND cp.user_id = $2)`,
			conversationID, userID,
		)
		return db.HandleQueryError(row.Scan(&exists), nil, "check participant", start)
	})
	return exists, err
}

func (r *PgConversationRepository) IsAdmin(ctx context.Context, userID, conversationID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var exists bool
	err := db.RetryWithBackoff(ctx, r.log, "check participant admin role", db.DefaultRetryConfig, func() error {
		start := time.Now()
		row := r.q.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1`+activeParticipantFilter+` AND cp.user_id = $2 AND cp.role = $3)`,
			conversationID, userID, string(domain.RoleAdmin),
		)
		return db.HandleQueryError(row.Scan(&exists), nil, "check participant admin role", start)
	})
	return exists, err
}

func (r *PgConversationRepository) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var ids []string
	err := db.RetryWithBackoff(ctx, r.log, "list participants", db.DefaultRetryConfig, func() error {
		ids = ids[:0]
		start := time.Now()
		rows, err := r.q.Query(ctx,
			`SELECT cp.user_id`+activeParticipantFilter+` ORDER BY cp.joined_at`,
			conversationID,
		)
		if err != nil {
			return db.HandleQueryError(err, nil, "list participants", start)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return db.HandleQueryError(err, nil, "list participants", start)
			}
			ids = append(ids, id)
		}
		return db.HandleQueryError(rows.Err(), nil, "list participants", start)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AddParticipant re-activates a previously removed membership instead of duplicating it.
func (r *PgConversationRepository) AddParticipant(ctx context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	p := domain.Participant{ConversationID: conversationID, UserID: userID}
	row := r.q.QueryRow(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET left_at = NULL, role = EXCLUDED.role,
		     joined_at = CASE WHEN conversation_participants.left_at IS NULL
		                      THEN conversation_participants.joined_at ELSE NOW() END
		 RETURNING role, joined_at`,
		conversationID, userID, string(role),
	)
	var rawRole string
	if err := row.Scan(&rawRole, &p.JoinedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			db.MeasureQueryDuration("add participant", start)
			return domain.Participant{}, commonerrors.ErrNotFound.WithCause(err)
		}
		return domain.Participant{}, db.HandleQueryError(err, commonerrors.ErrNotFound, "add participant", start)
	}
	db.MeasureQueryDuration("add participant", start)
	p.Role = domain.Role(rawRole)
	return p, nil
}

// RemoveParticipant reports false when there was no active membership to end.
func (r *PgConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	tag, err := r.q.Exec(ctx,
		`UPDATE conversation_participants SET left_at = NOW()
		 WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`,
		conversationID, userID,
	)
	if err != nil {
		return false, db.HandleExecError(err, "remove participant", start)
	}
	db.MeasureQueryDuration("remove participant", start)
	return tag.RowsAffected() > 0, nil
}
