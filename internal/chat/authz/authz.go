package authz

import (
	"context"
	"errors"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

type MembershipStore interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	IsAdmin(ctx context.Context, userID, conversationID string) (bool, error)
}

type MessageLookup interface {
	GetMessageRef(ctx context.Context, messageID string) (domain.MessageRef, error)
}

// Authorizer answers every question from the store at the time it is asked.
// Nothing is cached, so a removal takes effect on the very next action.
type Authorizer struct {
	members  MembershipStore
	messages MessageLookup
	log      *logger.Logger
}

func New(members MembershipStore, messages MessageLookup, log *logger.Logger) *Authorizer {
	return &Authorizer{members: members, messages: messages, log: log}
}

// IsParticipant is false, nil for an unknown conversation or a departed
// member. A store failure is false plus ErrPersistence; callers deny either way.
func (a *Authorizer) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	ok, err := a.members.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		a.log.WithFields(ctx, logger.Fields{
			"user_id":         userID,
			"conversation_id": conversationID,
			"action":          "authz_participant_lookup_failed",
		}).Errorf("participant lookup failed: %v", err)
		return false, commonerrors.ErrPersistence.WithCause(err)
	}
	return ok, nil
}

// RequireParticipant folds IsParticipant into a single error result.
func (a *Authorizer) RequireParticipant(ctx context.Context, userID, conversationID string) error {
	ok, err := a.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return commonerrors.ErrNotAuthorized
	}
	return nil
}

func (a *Authorizer) Participants(ctx context.Context, conversationID string) ([]string, error) {
	ids, err := a.members.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, commonerrors.ErrPersistence.WithCause(err)
	}
	return ids, nil
}

// AuthorizeMessage resolves the message's conversation and checks the caller
// still belongs to it. Unknown and deleted messages are reported exactly like
// a non-participant so that message ids stay undiscoverable.
func (a *Authorizer) AuthorizeMessage(ctx context.Context, userID, messageID string) (domain.MessageRef, error) {
	ref, err := a.messages.GetMessageRef(ctx, messageID)
	if err != nil {
		if errors.Is(err, commonerrors.ErrNotFound) {
			return domain.MessageRef{}, commonerrors.ErrNotAuthorized
		}
		return domain.MessageRef{}, commonerrors.ErrPersistence.WithCause(err)
	}
	if ref.IsDeleted {
		return domain.MessageRef{}, commonerrors.ErrNotAuthorized
	}
	if err := a.RequireParticipant(ctx, userID, ref.ConversationID); err != nil {
		return domain.MessageRef{}, err
	}
	return ref, nil
}

// AuthorizeSender is AuthorizeMessage plus the caller-is-sender rule for edits and deletes.
func (a *Authorizer) AuthorizeSender(ctx context.Context, userID, messageID string) (domain.MessageRef, error) {
	ref, err := a.AuthorizeMessage(ctx, userID, messageID)
	if err != nil {
		return domain.MessageRef{}, err
	}
	if ref.SenderID != userID {
		return domain.MessageRef{}, commonerrors.ErrNotMessageSender
	}
	return ref, nil
}

func (a *Authorizer) RequireAdmin(ctx context.Context, userID, conversationID string) error {
	ok, err := a.members.IsAdmin(ctx, userID, conversationID)
	if err != nil {
		return commonerrors.ErrPersistence.WithCause(err)
	}
	if !ok {
		return commonerrors.ErrNotConversationAdmin
	}
	return nil
}
