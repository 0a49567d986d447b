package outbox

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var identPartRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ParseIdentifier parses "schema.table" or "table" into pgx.Identifier.
func ParseIdentifier(s string) (pgx.Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalidConfig("identifier is empty")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, invalidConfig("invalid identifier %q (expected table or schema.table)", s)
	}

	ident := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, invalidConfig("invalid identifier %q (empty part)", s)
		}
		if !identPartRe.MatchString(p) {
			return nil, invalidConfig("invalid identifier %q (bad part %q)", s, p)
		}
		ident = append(ident, p)
	}
	return ident, nil
}

// TableLabel renders table as the metrics label and log field value.
func TableLabel(table pgx.Identifier) string {
	return strings.Join(table, ".")
}
