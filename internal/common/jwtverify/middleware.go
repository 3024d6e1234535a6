package jwtverify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	commonhttp "github.com/AlibekovAA/realtime-hub/backend/internal/common/http"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

func Middleware(verifier *Verifier, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := commonhttp.TraceIDFromContext(r.Context())

			raw := r.Header.Get("Authorization")
			if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_missing",
				}).Warnf("jwt auth failed: missing or invalid authorization header")
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, traceID)
				return
			}

			claims, err := verifier.Verify(r.Context(), strings.TrimPrefix(raw, "Bearer "))
			if err != nil {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_invalid",
				}).Warnf("jwt auth failed: %v", err)
				if !errors.Is(err, ErrTokenMalformed) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrTokenRevoked) {
					commonhttp.WriteErrorEnvelope(w, http.StatusServiceUnavailable, commonhttp.CodeUnknown, "authentication temporarily unavailable", nil, traceID)
					return
				}
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "invalid token", nil, traceID)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func FromContext(ctx context.Context) (Claims, bool) {
	val := ctx.Value(claimsKey)
	claims, ok := val.(Claims)
	return claims, ok
}
