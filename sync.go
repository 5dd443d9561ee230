package pairchat

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Feed events
// ============================================================================

// FeedEventKind discriminates the push models a realtime backend may use.
type FeedEventKind string

const (
	// EventSnapshot carries the full current message list (snapshot model).
	EventSnapshot FeedEventKind = "snapshot"
	// EventInsert carries one newly created message.
	EventInsert FeedEventKind = "insert"
	// EventUpdate carries the new state of an existing message.
	EventUpdate FeedEventKind = "update"
	// EventDelete names a removed message by id.
	EventDelete FeedEventKind = "delete"
)

// FeedEvent is one change pushed by the realtime feed for a subscribed
// conversation. The controller tolerates either push model: full snapshots
// or incremental deltas.
type FeedEvent struct {
	Kind      FeedEventKind
	Snapshot  []Message
	Message   Message
	MessageID string
}

// Unsubscribe releases a realtime subscription handle.
type Unsubscribe func()

// MessageFeed is the realtime collaborator the controller subscribes to.
// Events for a conversation arrive in the order the backend emits them and
// are applied in arrival order.
type MessageFeed interface {
	Subscribe(ctx context.Context, conversationID string, fn func(FeedEvent)) (Unsubscribe, error)
}

// ============================================================================
// Sync Controller
// ============================================================================

// SyncState is the lifecycle state of the active subscription.
type SyncState string

const (
	SyncIdle          SyncState = "idle"
	SyncSubscribing   SyncState = "subscribing"
	SyncLive          SyncState = "live"
	SyncUnsubscribing SyncState = "unsubscribing"
)

// SyncController owns the subscribe/unsubscribe lifecycle for the active
// conversation and merges remote events into the MessageStore. At most one
// live subscription exists at any time; re-activating the current
// conversation is a no-op.
type SyncController struct {
	feed   MessageFeed
	store  *MessageStore
	logger *zap.Logger

	mu       sync.Mutex
	active   string
	state    SyncState
	epoch    uint64
	release  Unsubscribe
	onChange func(conversationID string)
}

// NewSyncController wires a controller to its feed and store.
func NewSyncController(feed MessageFeed, store *MessageStore, logger *zap.Logger) *SyncController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncController{
		feed:   feed,
		store:  store,
		logger: logger,
		state:  SyncIdle,
	}
}

// OnChange registers a callback invoked after every applied event, so a
// consumer can re-render without polling.
func (c *SyncController) OnChange(fn func(conversationID string)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *SyncController) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the conversation id currently subscribed, or "".
func (c *SyncController) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activate subscribes to a conversation, releasing any previous
// subscription first so two handles never emit into the same store.
// Activating the already-active conversation is idempotent. On a
// subscription error the store keeps its last-known-good contents: stale
// but not corrupted. The store is reset by the new subscription's first
// event, not eagerly, so a failed switch never blanks the screen.
func (c *SyncController) Activate(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return validationErrorf("missing conversation id")
	}

	c.mu.Lock()
	if c.active == conversationID && (c.state == SyncLive || c.state == SyncSubscribing) {
		c.mu.Unlock()
		return nil
	}
	c.releaseLocked()
	c.epoch++
	epoch := c.epoch
	c.active = conversationID
	c.state = SyncSubscribing
	c.mu.Unlock()

	release, err := c.feed.Subscribe(ctx, conversationID, func(ev FeedEvent) {
		c.apply(epoch, conversationID, ev)
	})
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.active = ""
			c.state = SyncIdle
		}
		c.mu.Unlock()
		c.logger.Error("subscribe failed",
			zap.String("conversationId", conversationID), zap.Error(err))
		return remoteError("subscribe", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Another Activate/Deactivate raced us; this handle is already stale.
		c.mu.Unlock()
		release()
		return nil
	}
	c.release = release
	c.mu.Unlock()
	return nil
}

// Deactivate releases the active subscription and returns to idle. The
// store is left as-is for the caller to clear or keep.
func (c *SyncController) Deactivate() {
	c.mu.Lock()
	c.releaseLocked()
	c.epoch++
	c.active = ""
	c.state = SyncIdle
	c.mu.Unlock()
}

// releaseLocked runs the held unsubscribe handle. Caller holds c.mu.
func (c *SyncController) releaseLocked() {
	if c.release != nil {
		c.state = SyncUnsubscribing
		c.release()
		c.release = nil
	}
}

// apply merges one feed event into the store, dropping events from stale
// subscriptions so a continuation from conversation A can never mutate
// conversation B's messages.
func (c *SyncController) apply(epoch uint64, conversationID string, ev FeedEvent) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping event from stale subscription",
			zap.String("conversationId", conversationID))
		return
	}
	first := c.state == SyncSubscribing
	if first {
		c.state = SyncLive
	}
	onChange := c.onChange
	c.mu.Unlock()

	// The first event resets the store. A snapshot does so by definition;
	// a delta-first backend still must not mix its deltas with the previous
	// conversation's messages.
	if first && ev.Kind != EventSnapshot {
		c.store.Clear()
	}

	switch ev.Kind {
	case EventSnapshot:
		c.store.ReplaceAll(ev.Snapshot)
	case EventInsert:
		c.store.Insert(ev.Message)
	case EventUpdate:
		c.store.Patch(ev.Message.ID, MessagePatch{
			Text:        &ev.Message.Text,
			Attachments: &ev.Message.Attachments,
			Edited:      &ev.Message.Edited,
			EditedAt:    &ev.Message.EditedAt,
		})
	case EventDelete:
		c.store.Remove(ev.MessageID)
	default:
		c.logger.Warn("unknown feed event kind", zap.String("kind", string(ev.Kind)))
		return
	}

	if onChange != nil {
		onChange(conversationID)
	}
}
