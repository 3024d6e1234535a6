package httpmetrics

import (
	"strings"

	"github.com/google/uuid"
)

var knownRoutes = map[string]struct{}{
	"/":                    {},
	"/ws":                  {},
	"/health":              {},
	"/metrics":             {},
	"/api/presence/online": {},
}

// maxLabelSegments bounds the label cardinality produced by scanners probing
// arbitrary paths.
const maxLabelSegments = 3

// NormalizePath maps a request path to a metric label. Known routes pass
// through; ids are collapsed and deep unknown paths are truncated.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if _, ok := knownRoutes[path]; ok {
		return path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, maxLabelSegments+1)
	for i, part := range parts {
		if i == maxLabelSegments {
			out = append(out, "*")
			break
		}
		if isID(part) {
			part = "{param}"
		}
		out = append(out, part)
	}
	return "/" + strings.Join(out, "/")
}

func isID(s string) bool {
	if s == "" {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
