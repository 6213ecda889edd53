package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for every stamped field
// and snapshot key. Fixed width keeps lexical and chronological order equal.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// legacyTimestampLayout matches zone-less stamps written by earlier
// clients; they are read as UTC.
const legacyTimestampLayout = "2006-01-02T15:04:05.999999"

// ParseTimestamp accepts TimestampLayout, any RFC 3339 variant and zone-less
// stamps with up to microsecond precision.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	if legacy, legacyErr := time.ParseInLocation(legacyTimestampLayout, s, time.UTC); legacyErr == nil {
		return legacy, nil
	}
	return time.Time{}, err
}

// Encode converts a value to its stored string form. Strings are stored as
// is, json.RawMessage is stored as the JSON text it already is, and anything
// else is JSON encoded.
func Encode(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return "", fmt.Errorf("encode: invalid raw JSON")
		}
		return string(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored string as JSON and falls back to the raw string.
// Strings that happen to be valid JSON ("42", "true") come back as the
// parsed value; numbers decode as float64.
func Decode(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// encodeJSON always produces JSON, including for strings. History entries
// and snapshots use it so every stored element decodes strictly.
func encodeJSON(value any) (string, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return "", fmt.Errorf("encode: invalid raw JSON")
		}
		return string(raw), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

func encodeFields(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		s, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func decodeFields(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Decode(v)
	}
	return out
}

// normalize converts an arbitrary value into the shape Decode produces
// (map[string]any, []any, float64, string, bool, nil).
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	s, err := encodeJSON(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}
