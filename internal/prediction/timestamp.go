package prediction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Layouts accepted when reading a backend timestamp. Values without a zone are
// taken as UTC. Fractional seconds are accepted by every layout.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is an ISO-8601 instant that re-encodes exactly as it was received.
type Timestamp struct {
	raw string
	t   time.Time
}

// NewTimestamp wraps t, rendered as RFC 3339 in UTC.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{raw: t.UTC().Format(time.RFC3339Nano), t: t}
}

// ParseTimestamp keeps s verbatim. The instant is zero when s matches none of
// the accepted layouts.
func ParseTimestamp(s string) Timestamp {
	ts := Timestamp{raw: s}
	trimmed := strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			ts.t = parsed
			break
		}
	}
	return ts
}

// Time returns the parsed instant, zero when the text could not be parsed.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// String returns the text as received.
func (ts Timestamp) String() string {
	return ts.raw
}

// IsZero reports whether no timestamp was set.
func (ts Timestamp) IsZero() bool {
	return ts.raw == "" && ts.t.IsZero()
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.raw)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	*ts = ParseTimestamp(s)
	return nil
}
