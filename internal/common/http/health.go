package http

import (
	"context"
	"net/http"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
)

type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func HealthHandler(log *logger.Logger, checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteErrorEnvelope(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil, "")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				log.WithFields(ctx, logger.Fields{
					"check":  c.Name,
					"action": "health_check_failed",
				}).Warnf("health check %s failed: %v", c.Name, err)
				status[c.Name] = "down"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[c.Name] = "ok"
		}

		WriteJSON(w, code, status)
	}
}
