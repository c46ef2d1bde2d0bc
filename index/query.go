package index

import (
	"fmt"
	"strings"

	"github.com/mv2db/mv2/tokenizer"
)

// Mode combines the positive text terms of a query.
type Mode uint8

const (
	// ModeAnd requires every positive term to match (the default).
	ModeAnd Mode = iota
	// ModeOr requires any positive term to match.
	ModeOr
)

// Field names a filterable keyword field.
type Field uint8

const (
	FieldTag Field = iota
	FieldLabel
	FieldTrack
	FieldURI
	// FieldScope matches frames whose URI starts with the value.
	FieldScope
)

// FieldClause is one field:value filter of a query.
type FieldClause struct {
	Field   Field
	Value   string
	Negated bool
}

// Query is a parsed search query: normalized text terms combined by Mode,
// excluded terms, and keyword field filters.
type Query struct {
	Terms    []string
	Excluded []string
	Fields   []FieldClause
	Mode     Mode
}

// Empty reports whether the query constrains nothing.
func (q *Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Excluded) == 0 && len(q.Fields) == 0
}

// ParseQuery parses a query string. Whitespace-separated terms are combined
// with AND unless an OR token appears. A leading '-' or a NOT token negates
// the next term. tag:, label:, track: and uri: prefixes filter on keyword
// fields; an unknown prefix is searched as plain text. Text terms are
// normalized by the same analyzer that indexed the frames.
func ParseQuery(analyzer tokenizer.Analyzer, s string) (*Query, error) {
	q := &Query{}
	negateNext := false
	for _, raw := range strings.Fields(s) {
		switch raw {
		case "OR":
			q.Mode = ModeOr
			continue
		case "AND":
			continue
		case "NOT":
			negateNext = true
			continue
		}
		negated := negateNext
		negateNext = false
		if strings.HasPrefix(raw, "-") && len(raw) > 1 {
			negated = true
			raw = raw[1:]
		}
		if field, value, ok := splitField(raw); ok {
			if value == "" {
				return nil, fmt.Errorf("empty value for field filter %q", raw)
			}
			q.Fields = append(q.Fields, FieldClause{Field: field, Value: value, Negated: negated})
			continue
		}
		for _, tok := range analyzer.Analyze(raw) {
			if negated {
				q.Excluded = append(q.Excluded, tok.Term)
			} else {
				q.Terms = append(q.Terms, tok.Term)
			}
		}
	}
	if negateNext {
		return nil, fmt.Errorf("dangling NOT at end of query")
	}
	if q.Empty() {
		return nil, fmt.Errorf("query matches nothing")
	}
	return q, nil
}

func splitField(raw string) (Field, string, bool) {
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, "", false
	}
	switch strings.ToLower(name) {
	case "tag":
		return FieldTag, value, true
	case "label":
		return FieldLabel, value, true
	case "track":
		return FieldTrack, value, true
	case "uri":
		return FieldURI, value, true
	case "scope":
		return FieldScope, value, true
	default:
		return 0, "", false
	}
}
