package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/jwtverify"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	userdomain "github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

type mockVerifier struct {
	verifyFunc func(ctx context.Context, token string) (jwtverify.Claims, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (jwtverify.Claims, error) {
	return m.verifyFunc(ctx, token)
}

type mockAccounts struct {
	findAccountFunc func(ctx context.Context, id userdomain.ID) (userdomain.Account, error)
}

func (m *mockAccounts) FindAccount(ctx context.Context, id userdomain.ID) (userdomain.Account, error) {
	return m.findAccountFunc(ctx, id)
}

func okVerifier() *mockVerifier {
	return &mockVerifier{verifyFunc: func(ctx context.Context, token string) (jwtverify.Claims, error) {
		if token != "good" {
			return jwtverify.Claims{}, fmt.Errorf("%w: bad signature", jwtverify.ErrTokenMalformed)
		}
		return jwtverify.Claims{UserID: "u1", Username: "alice"}, nil
	}}
}

func activeAccounts() *mockAccounts {
	return &mockAccounts{findAccountFunc: func(ctx context.Context, id userdomain.ID) (userdomain.Account, error) {
		return userdomain.Account{ID: id, Username: "alice", IsActive: true}, nil
	}}
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	de, ok := commonerrors.AsDomainError(err)
	if !ok {
		t.Fatalf("expected domain error %s, got %v", code, err)
	}
	if de.Code() != code {
		t.Fatalf("expected code %s, got %s", code, de.Code())
	}
}

func TestAuthenticate_Success(t *testing.T) {
	g := New(okVerifier(), activeAccounts(), logger.NewDiscard())

	for _, cred := range []string{"good", "Bearer good", "bearer  good "} {
		id, err := g.Authenticate(context.Background(), cred)
		if err != nil {
			t.Fatalf("%q: expected no error, got %v", cred, err)
		}
		if id.UserID != "u1" || id.Username != "alice" {
			t.Errorf("%q: unexpected identity %+v", cred, id)
		}
	}
}

func TestAuthenticate_VerifierFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"malformed", jwtverify.ErrTokenMalformed, "INVALID_CREDENTIAL"},
		{"revoked", jwtverify.ErrTokenRevoked, "INVALID_CREDENTIAL"},
		{"expired", fmt.Errorf("%w: exp", jwtverify.ErrTokenExpired), "CREDENTIAL_EXPIRED"},
		{"lookup down", errors.New("revocation lookup: timeout"), "AUTH_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accountsCalled := false
			v := &mockVerifier{verifyFunc: func(ctx context.Context, token string) (jwtverify.Claims, error) {
				return jwtverify.Claims{}, tt.err
			}}
			a := &mockAccounts{findAccountFunc: func(ctx context.Context, id userdomain.ID) (userdomain.Account, error) {
				accountsCalled = true
				return userdomain.Account{}, nil
			}}

			_, err := New(v, a, logger.NewDiscard()).Authenticate(context.Background(), "tok")
			expectCode(t, err, tt.code)
			if accountsCalled {
				t.Error("account lookup must not run after a verifier failure")
			}
		})
	}
}

func TestAuthenticate_EmptyCredential(t *testing.T) {
	g := New(okVerifier(), activeAccounts(), logger.NewDiscard())
	_, err := g.Authenticate(context.Background(), "Bearer ")
	expectCode(t, err, "INVALID_CREDENTIAL")
}

func TestAuthenticate_AccountStates(t *testing.T) {
	tests := []struct {
		name    string
		account userdomain.Account
		err     error
		code    string
	}{
		{"disabled", userdomain.Account{ID: "u1", IsActive: false}, nil, "ACCOUNT_DISABLED"},
		{"missing", userdomain.Account{}, commonerrors.ErrNotFound, "INVALID_CREDENTIAL"},
		{"db down", userdomain.Account{}, errors.New("connection refused"), "AUTH_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mockAccounts{findAccountFunc: func(ctx context.Context, id userdomain.ID) (userdomain.Account, error) {
				return tt.account, tt.err
			}}
			_, err := New(okVerifier(), a, logger.NewDiscard()).Authenticate(context.Background(), "good")
			expectCode(t, err, tt.code)
		})
	}
}
