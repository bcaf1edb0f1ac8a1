package normalize

import (
	"strings"
	"time"
)

// dateLayouts are tried in order. Layouts without a zone parse as UTC.
var dateLayouts = []string{
	time.DateOnly,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseDate parses the date formats providers are known to return. It
// returns nil for empty or unrecognised input.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
