package pairchat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeTimestamp(t *testing.T) {
	ref := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	t.Run("iso string", func(t *testing.T) {
		ts := NormalizeTimestamp("2024-03-15T10:30:00Z")
		if !ts.Time().Equal(ref) {
			t.Errorf("expected %v, got %v", ref, ts.Time())
		}
	})

	t.Run("iso string with fractional seconds", func(t *testing.T) {
		ts := NormalizeTimestamp("2024-03-15T10:30:00.500Z")
		if ts.Time().Nanosecond() != 500_000_000 {
			t.Errorf("fractional seconds lost: %v", ts.Time())
		}
	})

	t.Run("seconds nanoseconds map", func(t *testing.T) {
		ts := NormalizeTimestamp(map[string]any{
			"seconds":     float64(ref.Unix()),
			"nanoseconds": float64(0),
		})
		if !ts.Time().Equal(ref) {
			t.Errorf("expected %v, got %v", ref, ts.Time())
		}
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		ts := NormalizeTimestamp(float64(ref.UnixMilli()))
		if !ts.Time().Equal(ref) {
			t.Errorf("expected %v, got %v", ref, ts.Time())
		}
		ts = NormalizeTimestamp(ref.UnixMilli())
		if !ts.Time().Equal(ref) {
			t.Errorf("int64 path: expected %v, got %v", ref, ts.Time())
		}
	})

	t.Run("time.Time passthrough", func(t *testing.T) {
		ts := NormalizeTimestamp(ref)
		if !ts.Time().Equal(ref) {
			t.Errorf("expected %v, got %v", ref, ts.Time())
		}
	})

	t.Run("unknown shapes fall back to epoch", func(t *testing.T) {
		for _, raw := range []any{nil, true, "not a date", map[string]any{"foo": 1}, []any{1, 2}} {
			ts := NormalizeTimestamp(raw)
			if !ts.Time().Equal(epochZero) {
				t.Errorf("raw %v: expected epoch fallback, got %v", raw, ts.Time())
			}
			if !ts.IsZero() {
				t.Errorf("raw %v: epoch fallback should report IsZero", raw)
			}
		}
	})
}

func TestTimestampOrdering(t *testing.T) {
	early := At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := At(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	if !early.Before(late) {
		t.Error("early should order before late")
	}
	if !late.After(early) {
		t.Error("late should order after early")
	}
	if !early.Equal(early) {
		t.Error("a timestamp should equal itself")
	}

	// The epoch fallback orders before any real message.
	var unset Timestamp
	if !unset.Before(early) {
		t.Error("unset timestamp should order before real timestamps")
	}
}

func TestTimestampJSON(t *testing.T) {
	t.Run("decodes mixed shapes in one payload", func(t *testing.T) {
		payload := `[
			{"createdAt": "2024-03-15T10:30:00Z"},
			{"createdAt": {"seconds": 1710498600, "nanoseconds": 0}},
			{"createdAt": 1710498600000},
			{"createdAt": null}
		]`
		var msgs []struct {
			CreatedAt Timestamp `json:"createdAt"`
		}
		if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		want := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			if !msgs[i].CreatedAt.Time().Equal(want) {
				t.Errorf("entry %d: expected %v, got %v", i, want, msgs[i].CreatedAt.Time())
			}
		}
		if !msgs[3].CreatedAt.IsZero() {
			t.Error("null should normalize to the epoch fallback")
		}
	})

	t.Run("round trips through ISO encoding", func(t *testing.T) {
		orig := At(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))
		data, err := json.Marshal(orig)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Timestamp
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !decoded.Equal(orig) {
			t.Errorf("round trip changed value: %v != %v", decoded, orig)
		}
	})
}
