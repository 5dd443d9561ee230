package pairchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestReconnectorBackoff(t *testing.T) {
	cfg := &FeedConfig{}
	cfg.defaults()
	r := newReconnector(cfg)

	var prev time.Duration
	for i := 0; i < 5; i++ {
		d := r.nextDelay()
		if d > cfg.ReconnectMaxDelay {
			t.Fatalf("attempt %d: delay %v exceeds max %v", i, d, cfg.ReconnectMaxDelay)
		}
		if i > 0 && d < prev/2 {
			t.Errorf("attempt %d: delay %v shrank unexpectedly from %v", i, d, prev)
		}
		prev = d
	}

	t.Run("attempt counter resets after a long stable connection", func(t *testing.T) {
		r.markConnected()
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		d := r.nextDelay()
		if d > cfg.ReconnectBaseDelay*2 {
			t.Errorf("expected reset to base delay, got %v", d)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		r2 := newReconnector(&FeedConfig{MaxReconnectAttempts: 2, ReconnectBaseDelay: time.Millisecond, ReconnectMaxDelay: time.Millisecond})
		r2.nextDelay()
		r2.nextDelay()
		if r2.shouldReconnect() {
			t.Error("should stop after max attempts")
		}
	})
}

func TestRealtimeFeedDispatch(t *testing.T) {
	feed := NewRealtimeFeed("http://test", FeedConfig{}, nil)

	var events []FeedEvent
	feed.handlersMu.Lock()
	feed.handlers["a_b"] = map[uint64]func(FeedEvent){
		1: func(ev FeedEvent) { events = append(events, ev) },
	}
	feed.handlersMu.Unlock()

	push := func(typ string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		feed.dispatch(feedEnvelope{Type: typ, Payload: raw})
	}

	push("messages.snapshot", snapshotPayload{
		ConversationID: "a_b",
		Messages:       []Message{{ID: "m1"}, {ID: "m2"}},
	})
	push("message.new", messagePayload{ConversationID: "a_b", Message: Message{ID: "m3"}})
	push("message.updated", messagePayload{ConversationID: "a_b", Message: Message{ID: "m3", Text: "edited"}})
	push("message.deleted", deletePayload{ConversationID: "a_b", MessageID: "m1"})

	// Events for other conversations and unknown types are ignored.
	push("message.new", messagePayload{ConversationID: "x_y", Message: Message{ID: "other"}})
	push("presence.changed", map[string]string{"userId": "u-bob"})

	want := []FeedEventKind{EventSnapshot, EventInsert, EventUpdate, EventDelete}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}
	if len(events[0].Snapshot) != 2 {
		t.Errorf("snapshot lost messages: %+v", events[0])
	}
	if events[3].MessageID != "m1" {
		t.Errorf("delete should carry the message id: %+v", events[3])
	}
}

func TestRealtimeFeedTokenRefresh(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.URL.Query().Get("token"))
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	feed := NewRealtimeFeed(server.URL, FeedConfig{Token: "stale"}, nil)
	feed.SetToken("fresh")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Connect(ctx); err == nil {
		t.Fatal("expected the handshake to be rejected")
	}
	if feed.State() != FeedDisconnected {
		t.Errorf("expected disconnected after a failed dial, got %s", feed.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 1 || tokens[0] != "fresh" {
		t.Errorf("handshake should carry the refreshed token, got %v", tokens)
	}
}

func TestRealtimeFeedSubscribeReleases(t *testing.T) {
	feed := NewRealtimeFeed("http://test", FeedConfig{}, nil)

	// No connection: Subscribe fails on the join command.
	if _, err := feed.Subscribe(context.Background(), "a_b", func(FeedEvent) {}); err == nil {
		t.Fatal("subscribe without a connection should fail")
	}
	feed.handlersMu.RLock()
	leaked := len(feed.handlers)
	feed.handlersMu.RUnlock()
	if leaked != 0 {
		t.Error("failed subscribe must not leak a handler")
	}
}
