package pairchat

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Timestamp
// ============================================================================

// Timestamp is the canonical comparable form for every time value flowing
// through the engine. Backends emit timestamps in several shapes — ISO-8601
// strings, {seconds, nanoseconds} objects, raw epoch milliseconds — and all
// of them normalize here. Nothing else in the module compares raw timestamp
// values.
type Timestamp struct {
	t time.Time
}

// epochZero is the documented fallback for shapes the normalizer does not
// recognize: the Unix epoch, not a crash.
var epochZero = time.Unix(0, 0).UTC()

// At wraps a time.Time as a Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return At(time.Now())
}

// Time returns the underlying time. The zero Timestamp reports the Unix
// epoch so that unset values order before every real message.
func (ts Timestamp) Time() time.Time {
	if ts.t.IsZero() {
		return epochZero
	}
	return ts.t
}

// IsZero reports whether the timestamp was never set (or normalized from an
// unknown shape).
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero() || ts.t.Equal(epochZero)
}

// Before reports whether ts orders strictly before other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.Time().Before(other.Time())
}

// After reports whether ts orders strictly after other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.Time().After(other.Time())
}

// Equal reports whether the two timestamps denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.Time().Equal(other.Time())
}

// UnixMillis returns the epoch-millisecond value, the total order used by
// the message sort and the conversation ranking.
func (ts Timestamp) UnixMillis() int64 {
	return ts.Time().UnixMilli()
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// MarshalJSON encodes the timestamp as an ISO-8601 string, or null when
// unset.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts every timestamp shape the backends are known to
// emit. Unknown shapes decode to the epoch fallback rather than failing the
// whole payload.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*ts = Timestamp{t: epochZero}
		return nil
	}
	*ts = NormalizeTimestamp(raw)
	return nil
}

// NormalizeTimestamp converts a raw timestamp representation into a
// Timestamp. Accepted shapes:
//
//   - time.Time and anything exposing a Time() time.Time conversion method
//   - ISO-8601 / RFC3339 strings
//   - map with "seconds" (and optional "nanoseconds") fields
//   - numeric epoch milliseconds
//
// Anything else normalizes to the epoch fallback.
func NormalizeTimestamp(raw any) Timestamp {
	switch v := raw.(type) {
	case nil:
		return Timestamp{t: epochZero}
	case Timestamp:
		return v
	case time.Time:
		return At(v)
	case interface{ Time() time.Time }:
		return At(v.Time())
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return At(t)
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return At(t)
		}
		return Timestamp{t: epochZero}
	case float64:
		return At(time.UnixMilli(int64(v)))
	case int64:
		return At(time.UnixMilli(v))
	case int:
		return At(time.UnixMilli(int64(v)))
	case map[string]any:
		if secs, ok := numberField(v, "seconds"); ok {
			nanos, _ := numberField(v, "nanoseconds")
			return At(time.Unix(int64(secs), int64(nanos)))
		}
		return Timestamp{t: epochZero}
	default:
		return Timestamp{t: epochZero}
	}
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
