package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// parseError marks a response that decoded but does not carry the fields a
// snapshot needs. It is never retried.
type parseError struct {
	msg string
}

func (e *parseError) Error() string {
	return e.msg
}

func malformed(format string, args ...any) error {
	return &parseError{msg: fmt.Sprintf(format, args...)}
}

func firstEntry(data []json.RawMessage, endpoint string) (map[string]any, error) {
	if len(data) == 0 {
		return nil, malformed("%s: empty data", endpoint)
	}
	dec := json.NewDecoder(bytes.NewReader(data[0]))
	dec.UseNumber()
	var entry map[string]any
	if err := dec.Decode(&entry); err != nil {
		return nil, malformed("%s: %v", endpoint, err)
	}
	if entry == nil {
		return nil, malformed("%s: null entry", endpoint)
	}
	return entry, nil
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func decimalFromMap(m map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if d, ok := decimalFromAny(v); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func timeFromMap(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if ts, ok := timeFromAny(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// timeFromAny accepts epoch seconds, milliseconds or nanoseconds.
func timeFromAny(v any) (time.Time, bool) {
	raw := stringFromAny(v)
	if raw == "" {
		if f, ok := v.(float64); ok {
			raw = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	switch {
	case ts > 1e15:
		return time.Unix(0, ts).UTC(), true
	case ts > 1e12:
		return time.UnixMilli(ts).UTC(), true
	default:
		return time.Unix(ts, 0).UTC(), true
	}
}
