package repository

import (
	"context"
	"time"

	pgx "github.com/jackc/pgx/v4"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/db"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	GetMessageRef(ctx context.Context, messageID string) (domain.MessageRef, error)
	EditMessage(ctx context.Context, messageID, body string) (domain.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (domain.ReadReceipt, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
}

type PgMessageRepository struct {
	q   db.Querier
	tx  db.TxManager
	log *logger.Logger
}

func NewPgMessageRepository(q db.Querier, tx db.TxManager, log *logger.Logger) *PgMessageRepository {
	return &PgMessageRepository{q: q, tx: tx, log: log}
}

const messageColumns = `id, conversation_id, sender_id, body, message_type, reply_to_id,
	client_message_id, is_edited, is_deleted, created_at, updated_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var msgType string
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &msgType, &m.ReplyToID,
		&m.ClientMessageID, &m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt,
	)
	m.MessageType = domain.MessageType(msgType)
	return m, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateMessage inserts the message and advances the conversation's
// last_message_id in one transaction, so the store's commit order is the
// message order.
func (r *PgMessageRepository) CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageTypeText
	}

	var created domain.Message
	err := r.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		start := time.Now()
		row := q.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, sender_id, body, message_type, reply_to_id, client_message_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+messageColumns,
			msg.ConversationID, msg.SenderID, msg.Body, string(msg.MessageType),
			nullable(msg.ReplyToID), nullable(msg.ClientMessageID),
		)
		m, err := scanMessage(row)
		if err := db.HandleQueryError(err, commonerrors.ErrNotFound, "create message", start); err != nil {
			return err
		}

		start = time.Now()
		_, err = q.Exec(ctx,
			`UPDATE conversations SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
			m.ID, m.CreatedAt, m.ConversationID,
		)
		if err := db.HandleExecError(err, "update conversation last message", start); err != nil {
			return err
		}

		created = m
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return created, nil
}

// GetMessageRef returns commonerrors.ErrNotFound for an unknown id.
func (r *PgMessageRepository) GetMessageRef(ctx context.Context, messageID string) (domain.MessageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var ref domain.MessageRef
	err := db.RetryWithBackoff(ctx, r.log, "get message ref", db.DefaultRetryConfig, func() error {
		start := time.Now()
		row := r.q.QueryRow(ctx,
			`SELECT id, conversation_id, sender_id, is_deleted FROM messages WHERE id = $1`,
			messageID,
		)
		return db.HandleQueryError(
			row.Scan(&ref.ID, &ref.ConversationID, &ref.SenderID, &ref.IsDeleted),
			commonerrors.ErrNotFound, "get message ref", start,
		)
	})
	if err != nil {
		return domain.MessageRef{}, err
	}
	return ref, nil
}

func (r *PgMessageRepository) EditMessage(ctx context.Context, messageID, body string) (domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.q.QueryRow(ctx,
		`UPDATE messages SET body = $2, is_edited = TRUE, updated_at = NOW()
		 WHERE id = $1 AND NOT is_deleted
		 RETURNING `+messageColumns,
		messageID, body,
	)
	m, err := scanMessage(row)
	if err := db.HandleQueryError(err, commonerrors.ErrNotFound, "edit message", start); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (r *PgMessageRepository) SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.q.QueryRow(ctx,
		`UPDATE messages SET is_deleted = TRUE, updated_at = NOW()
		 WHERE id = $1 AND NOT is_deleted
		 RETURNING `+messageColumns,
		messageID,
	)
	m, err := scanMessage(row)
	if err := db.HandleQueryError(err, commonerrors.ErrNotFound, "soft delete message", start); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// MarkRead is an idempotent append: a repeated read keeps the first read_at.
func (r *PgMessageRepository) MarkRead(ctx context.Context, messageID, userID string) (domain.ReadReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	receipt := domain.ReadReceipt{MessageID: messageID, UserID: userID}
	start := time.Now()
	row := r.q.QueryRow(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = message_reads.read_at
		 RETURNING read_at`,
		messageID, userID,
	)
	if err := db.HandleQueryError(row.Scan(&receipt.ReadAt), commonerrors.ErrNotFound, "mark message read", start); err != nil {
		return domain.ReadReceipt{}, err
	}
	return receipt, nil
}

func (r *PgMessageRepository) AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Reaction, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	reaction := domain.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	start := time.Now()
	row := r.q.QueryRow(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (message_id, user_id, emoji) DO UPDATE SET reacted_at = message_reactions.reacted_at
		 RETURNING reacted_at`,
		messageID, userID, emoji,
	)
	if err := db.HandleQueryError(row.Scan(&reaction.ReactedAt), commonerrors.ErrNotFound, "add reaction", start); err != nil {
		return domain.Reaction{}, err
	}
	return reaction, nil
}

func (r *PgMessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	tag, err := r.q.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, db.HandleExecError(err, "remove reaction", start)
	}
	db.MeasureQueryDuration("remove reaction", start)
	return tag.RowsAffected() > 0, nil
}
