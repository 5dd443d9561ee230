package pairchat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

// feedEnvelope is the wire format for all realtime events.
type feedEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// feedCommand is a client-to-server command.
type feedCommand struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// snapshotPayload carries the full message list for a conversation.
type snapshotPayload struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// messagePayload carries one inserted or updated message.
type messagePayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// deletePayload identifies one removed message.
type deletePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig configures the realtime feed.
type FeedConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *FeedConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// FeedState represents the connection state.
type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *FeedConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeFeed
// ============================================================================

// RealtimeFeed is a WebSocket MessageFeed with auto-reconnect and heartbeat.
// One connection multiplexes any number of conversation subscriptions; the
// server scopes delivery to joined conversations, and the feed re-joins
// every live subscription after a reconnect.
type RealtimeFeed struct {
	baseURL string
	config  *FeedConfig
	logger  *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            FeedState
	intentionalClose bool
	cancelFn         context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]func(FeedEvent)
	nextHandle uint64

	recon *reconnector
}

// NewRealtimeFeed builds a feed against the backend's realtime endpoint.
// Call Connect before Subscribe.
func NewRealtimeFeed(baseURL string, config FeedConfig, logger *zap.Logger) *RealtimeFeed {
	config.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeFeed{
		baseURL:  strings.TrimRight(baseURL, "/"),
		config:   &config,
		logger:   logger,
		state:    FeedDisconnected,
		handlers: make(map[string]map[uint64]func(FeedEvent)),
		recon:    newReconnector(&config),
	}
}

// State returns the current connection state.
func (f *RealtimeFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetToken replaces the token used by subsequent connection attempts,
// reconnects included. The live connection, if any, is untouched.
func (f *RealtimeFeed) SetToken(token string) {
	f.mu.Lock()
	f.config.Token = token
	f.mu.Unlock()
}

// Connect establishes the WebSocket connection.
func (f *RealtimeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == FeedConnected || f.state == FeedConnecting {
		f.mu.Unlock()
		return nil
	}
	f.state = FeedConnecting
	f.intentionalClose = false
	token := f.config.Token
	f.mu.Unlock()

	wsURL := strings.Replace(f.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		f.mu.Lock()
		f.state = FeedDisconnected
		f.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	f.mu.Lock()
	f.conn = conn
	f.state = FeedConnected
	f.mu.Unlock()
	f.recon.markConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancelFn = cancel
	f.mu.Unlock()

	// Re-join every conversation that still has a live subscription.
	f.handlersMu.RLock()
	joined := make([]string, 0, len(f.handlers))
	for id := range f.handlers {
		joined = append(joined, id)
	}
	f.handlersMu.RUnlock()
	for _, id := range joined {
		if err := f.send(connCtx, joinCommand(id)); err != nil {
			f.logger.Warn("re-join failed", zap.String("conversation", id), zap.Error(err))
		}
	}

	go f.readLoop(connCtx)
	go f.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection. Subscriptions survive and
// are re-joined on the next Connect.
func (f *RealtimeFeed) Disconnect() error {
	f.mu.Lock()
	f.intentionalClose = true
	if f.cancelFn != nil {
		f.cancelFn()
		f.cancelFn = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = FeedDisconnected
	f.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe joins a conversation and routes its events to fn. The server
// answers the join with a full snapshot, then streams deltas. The returned
// handle leaves the conversation once its last subscriber is gone.
func (f *RealtimeFeed) Subscribe(ctx context.Context, conversationID string, fn func(FeedEvent)) (Unsubscribe, error) {
	if conversationID == "" {
		return nil, validationErrorf("missing conversation id")
	}

	f.handlersMu.Lock()
	f.nextHandle++
	handle := f.nextHandle
	set, joined := f.handlers[conversationID]
	if set == nil {
		set = make(map[uint64]func(FeedEvent))
		f.handlers[conversationID] = set
	}
	set[handle] = fn
	f.handlersMu.Unlock()

	if !joined {
		if err := f.send(ctx, joinCommand(conversationID)); err != nil {
			f.handlersMu.Lock()
			delete(f.handlers[conversationID], handle)
			if len(f.handlers[conversationID]) == 0 {
				delete(f.handlers, conversationID)
			}
			f.handlersMu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.handlersMu.Lock()
			delete(f.handlers[conversationID], handle)
			last := len(f.handlers[conversationID]) == 0
			if last {
				delete(f.handlers, conversationID)
			}
			f.handlersMu.Unlock()
			if last {
				leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := f.send(leaveCtx, leaveCommand(conversationID)); err != nil {
					f.logger.Debug("leave failed", zap.String("conversation", conversationID), zap.Error(err))
				}
			}
		})
	}
	return release, nil
}

func joinCommand(conversationID string) *feedCommand {
	return &feedCommand{
		Type:    "conversation.join",
		Payload: map[string]string{"conversationId": conversationID},
	}
}

func leaveCommand(conversationID string) *feedCommand {
	return &feedCommand{
		Type:    "conversation.leave",
		Payload: map[string]string{"conversationId": conversationID},
	}
}

func (f *RealtimeFeed) send(ctx context.Context, cmd *feedCommand) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (f *RealtimeFeed) readLoop(ctx context.Context) {
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			f.mu.Lock()
			intentional := f.intentionalClose
			f.mu.Unlock()
			if intentional {
				return
			}

			f.mu.Lock()
			f.state = FeedDisconnected
			f.conn = nil
			f.mu.Unlock()
			f.logger.Warn("realtime connection lost", zap.Error(err))

			if f.config.AutoReconnect && f.recon.shouldReconnect() {
				f.scheduleReconnect()
			}
			return
		}

		var env feedEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		f.dispatch(env)
	}
}

// dispatch translates a wire envelope into a FeedEvent and fans it out to
// the conversation's subscribers.
func (f *RealtimeFeed) dispatch(env feedEnvelope) {
	var (
		conversationID string
		ev             FeedEvent
	)

	switch env.Type {
	case "messages.snapshot":
		var p snapshotPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		conversationID = p.ConversationID
		ev = FeedEvent{Kind: EventSnapshot, Snapshot: p.Messages}
	case "message.new":
		var p messagePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		conversationID = p.ConversationID
		ev = FeedEvent{Kind: EventInsert, Message: p.Message}
	case "message.updated":
		var p messagePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		conversationID = p.ConversationID
		ev = FeedEvent{Kind: EventUpdate, Message: p.Message}
	case "message.deleted":
		var p deletePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		conversationID = p.ConversationID
		ev = FeedEvent{Kind: EventDelete, MessageID: p.MessageID}
	default:
		return
	}

	f.handlersMu.RLock()
	fns := make([]func(FeedEvent), 0, len(f.handlers[conversationID]))
	for _, fn := range f.handlers[conversationID] {
		fns = append(fns, fn)
	}
	f.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (f *RealtimeFeed) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			state := f.state
			f.mu.Unlock()
			if state != FeedConnected || conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (f *RealtimeFeed) scheduleReconnect() {
	delay := f.recon.nextDelay()
	f.mu.Lock()
	f.state = FeedReconnecting
	f.mu.Unlock()
	f.logger.Info("reconnecting",
		zap.Int("attempt", f.recon.attempt),
		zap.Duration("delay", delay))

	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		if f.config.AutoReconnect && f.recon.shouldReconnect() {
			f.scheduleReconnect()
		} else {
			f.mu.Lock()
			f.state = FeedDisconnected
			f.mu.Unlock()
		}
	}
}
