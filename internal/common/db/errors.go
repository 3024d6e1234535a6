package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"

	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

// First match wins, so narrower needles come first.
var operationTables = []struct {
	needle string
	table  string
}{
	{"revoked", "revoked_tokens"},
	{"participant", "conversation_participants"},
	{"read", "message_reads"},
	{"reaction", "message_reactions"},
	{"conversation", "conversations"},
	{"message", "messages"},
	{"last_seen", "users"},
	{"account", "users"},
	{"user", "users"},
}

func extractTableFromOperation(operation string) string {
	operation = strings.ToLower(operation)
	for _, ot := range operationTables {
		if strings.Contains(operation, ot.needle) {
			return ot.table
		}
	}
	return "unknown"
}

const invalidTextRepresentation = "22P02"

// isMalformedKey reports an identifier the column type rejects, such as a
// non-uuid string compared with a uuid column. No row can match it.
func isMalformedKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// HandleQueryError maps a missing or unmatchable row to notFoundErr, which
// may be nil for existence checks.
func HandleQueryError(err error, notFoundErr error, operation string, startTime time.Time) error {
	MeasureQueryDuration(operation, startTime)

	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isMalformedKey(err) {
		return notFoundErr
	}
	metrics.DBQueryErrors.WithLabelValues(operation, extractTableFromOperation(operation), fmt.Sprintf("%T", err)).Inc()
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// HandleExecError treats an unmatchable identifier as a statement that
// affected no rows.
func HandleExecError(err error, operation string, startTime time.Time) error {
	MeasureQueryDuration(operation, startTime)

	if err == nil || isMalformedKey(err) {
		return nil
	}
	metrics.DBQueryErrors.WithLabelValues(operation, extractTableFromOperation(operation), fmt.Sprintf("%T", err)).Inc()
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func MeasureQueryDuration(operation string, startTime time.Time) {
	metrics.DBQueryDurationSeconds.WithLabelValues(operation, extractTableFromOperation(operation)).Observe(time.Since(startTime).Seconds())
}
