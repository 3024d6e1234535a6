package http

import (
	"strings"
	"unicode"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
)

// ValidateID accepts any opaque identifier up to MaxIdentifierLen without
// whitespace or control characters.
func ValidateID(s string) error {
	if s == "" || len(s) > constants.MaxIdentifierLen {
		return commonerrors.ErrInvalidIdentifier
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return commonerrors.ErrInvalidIdentifier
		}
	}
	return nil
}

// ParseIDList splits a comma-separated query value into distinct ids,
// preserving first-seen order.
func ParseIDList(raw string, max int) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if err := ValidateID(id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if max > 0 && len(ids) > max {
		return nil, commonerrors.ErrInvalidPayload
	}
	return ids, nil
}
