package http

import (
	"net/http"
	"strconv"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/httpmetrics"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

// HandleError writes err as an ErrorEnvelope. Domain errors keep their code
// and status; anything else is logged and reported as a bare 500.
func HandleError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	if err == nil {
		return
	}

	ctx := r.Context()
	traceID := getTraceIDFromContext(ctx)
	if traceID != "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	de, ok := commonerrors.AsDomainError(err)
	if !ok {
		log.WithFields(ctx, logger.Fields{
			"error":    err.Error(),
			"trace_id": traceID,
			"action":   "unhandled_error",
		}).Errorf("unhandled error: %v", err)
		countHTTPError(r, http.StatusInternalServerError)
		WriteErrorEnvelope(w, http.StatusInternalServerError, CodeUnknown, "internal server error", nil, traceID)
		return
	}

	status := de.HTTPStatus()
	if log.ShouldLog(logger.DEBUG) {
		log.WithFields(ctx, logger.Fields{
			"error_code": de.Code(),
			"category":   string(de.Category()),
			"status":     status,
			"trace_id":   traceID,
			"action":     "domain_error",
		}).Debugf("domain error: %s", de.Error())
	}

	metrics.DomainErrorsTotal.WithLabelValues(string(de.Category()), de.Code(), strconv.Itoa(status)).Inc()
	countHTTPError(r, status)
	WriteErrorEnvelope(w, status, de.Code(), de.Message(), nil, traceID)
}

func countHTTPError(r *http.Request, status int) {
	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(status),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()
}
