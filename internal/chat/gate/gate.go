package gate

import (
	"context"
	"errors"
	"strings"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/jwtverify"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
	userdomain "github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

type Identity struct {
	UserID   string
	Username string
}

type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (jwtverify.Claims, error)
}

type AccountFinder interface {
	FindAccount(ctx context.Context, id userdomain.ID) (userdomain.Account, error)
}

// Gate turns a bearer credential into an Identity. It keeps no state; the
// caller registers the connection only after Authenticate succeeds.
type Gate struct {
	verifier CredentialVerifier
	accounts AccountFinder
	log      *logger.Logger
}

func New(verifier CredentialVerifier, accounts AccountFinder, log *logger.Logger) *Gate {
	return &Gate{verifier: verifier, accounts: accounts, log: log}
}

func (g *Gate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	identity, err := g.authenticate(ctx, credential)
	if err != nil {
		code := "error"
		if de, ok := commonerrors.AsDomainError(err); ok {
			code = de.Code()
		}
		metrics.GateAuthenticationsTotal.WithLabelValues(code).Inc()
		return Identity{}, err
	}
	metrics.GateAuthenticationsTotal.WithLabelValues("ok").Inc()
	return identity, nil
}

func (g *Gate) authenticate(ctx context.Context, credential string) (Identity, error) {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Identity{}, commonerrors.ErrInvalidCredential
	}

	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, jwtverify.ErrTokenExpired):
			return Identity{}, commonerrors.ErrCredentialExpired.WithCause(err)
		case errors.Is(err, jwtverify.ErrTokenMalformed), errors.Is(err, jwtverify.ErrTokenRevoked):
			return Identity{}, commonerrors.ErrInvalidCredential.WithCause(err)
		default:
			g.log.WithFields(ctx, logger.Fields{
				"action": "gate_verifier_unavailable",
			}).Errorf("credential verification failed: %v", err)
			return Identity{}, commonerrors.ErrGateUnavailable.WithCause(err)
		}
	}

	account, err := g.accounts.FindAccount(ctx, userdomain.ID(claims.UserID))
	if err != nil {
		if errors.Is(err, commonerrors.ErrNotFound) {
			return Identity{}, commonerrors.ErrInvalidCredential.WithCause(err)
		}
		g.log.WithFields(ctx, logger.Fields{
			"user_id": claims.UserID,
			"action":  "gate_account_lookup_failed",
		}).Errorf("account lookup failed: %v", err)
		return Identity{}, commonerrors.ErrGateUnavailable.WithCause(err)
	}
	if !account.IsActive {
		return Identity{}, commonerrors.ErrAccountDisabled
	}

	username := account.Username
	if username == "" {
		username = claims.Username
	}
	return Identity{UserID: claims.UserID, Username: username}, nil
}
