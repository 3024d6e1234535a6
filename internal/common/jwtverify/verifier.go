package jwtverify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

var (
	ErrTokenMalformed = errors.New("token malformed or unverifiable")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
)

type Claims struct {
	UserID   string
	Username string
	JTI      string
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Verifier struct {
	secret  []byte
	revoked RevocationChecker
}

// NewVerifier accepts a nil checker, in which case revocation is not consulted.
func NewVerifier(secret string, revoked RevocationChecker) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		revoked: revoked,
	}
}

// Verify checks signature, expiry and required claims, then the revocation list.
// Failures wrap one of ErrTokenMalformed, ErrTokenExpired or ErrTokenRevoked; any
// other error means the revocation lookup itself failed.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Claims, error) {
	metrics.JWTValidationsTotal.Inc()

	claims, err := ParseToken(tokenString, v.secret)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metrics.JWTValidationsFailed.WithLabelValues("expired").Inc()
		} else {
			metrics.JWTValidationsFailed.WithLabelValues("malformed").Inc()
		}
		return Claims{}, err
	}

	if v.revoked == nil || claims.JTI == "" {
		return claims, nil
	}

	metrics.JWTRevokedChecksTotal.Inc()
	revoked, err := v.revoked.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Claims{}, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		metrics.JWTValidationsFailed.WithLabelValues("revoked").Inc()
		return Claims{}, ErrTokenRevoked
	}

	return claims, nil
}

func ParseToken(tokenString string, secret []byte) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrTokenMalformed
	}

	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenMalformed
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: invalid claims type", ErrTokenMalformed)
	}

	sub, _ := mapClaims["sub"].(string)
	username, _ := mapClaims["usr"].(string)
	if sub == "" || username == "" {
		return Claims{}, fmt.Errorf("%w: missing sub or usr claims", ErrTokenMalformed)
	}
	jti, _ := mapClaims["jti"].(string)

	return Claims{
		UserID:   sub,
		Username: username,
		JTI:      jti,
	}, nil
}
