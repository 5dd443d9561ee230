package pairchat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Subscription registry
// ============================================================================

// subscriptionRegistry tracks long-lived subscription handles keyed by
// purpose ("auth", "contacts", ...), replacing the loose side-table the
// server client would otherwise accumulate. Setting a purpose releases the
// handle it replaces.
type subscriptionRegistry struct {
	mu      sync.Mutex
	entries map[string]Unsubscribe
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[string]Unsubscribe)}
}

func (r *subscriptionRegistry) set(purpose string, release Unsubscribe) {
	r.mu.Lock()
	prev := r.entries[purpose]
	r.entries[purpose] = release
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (r *subscriptionRegistry) release(purpose string) {
	r.mu.Lock()
	prev := r.entries[purpose]
	delete(r.entries, purpose)
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (r *subscriptionRegistry) releaseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Unsubscribe)
	r.mu.Unlock()
	for _, release := range entries {
		if release != nil {
			release()
		}
	}
}

// ============================================================================
// Session
// ============================================================================

// Session is the explicit context object for one signed-in user: it owns
// the message store, the conversation directory, the sync controller, and
// the attachment pipeline, and exposes every operation the presentation
// layer dispatches. Constructed once at process start and passed to
// whatever needs it; there is no package-level state.
type Session struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	store       *MessageStore
	directory   *Directory
	sync        *SyncController
	attachments *AttachmentPipeline
	subs        *subscriptionRegistry

	mu        sync.Mutex
	user      *User
	peer      *User
	convID    string
	editing   string // id of the message being edited, ephemeral UI state
	sending   bool
	recording bool
	contacts  map[string]User
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithLogger installs a structured logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithUploadRetention overrides how long a completed upload entry stays in
// the progress map for visual confirmation.
func WithUploadRetention(d time.Duration) SessionOption {
	return func(s *Session) { s.attachments.retention = d }
}

// NewSession builds a session around a backend.
func NewSession(backend Backend, opts ...SessionOption) *Session {
	s := &Session{
		backend:  backend,
		logger:   zap.NewNop(),
		now:      time.Now,
		subs:     newSubscriptionRegistry(),
		contacts: make(map[string]User),
	}
	s.store = NewMessageStore()
	s.attachments = NewAttachmentPipeline(backend.Storage())
	for _, opt := range opts {
		opt(s)
	}
	s.directory = NewDirectory(s.logger)
	s.sync = NewSyncController(backend.Messages(), s.store, s.logger)
	s.attachments.logger = s.logger
	return s
}

// Store returns the active conversation's message store (read-only for the
// caller; mutation goes through the pipeline).
func (s *Session) Store() *MessageStore { return s.store }

// Directory returns the conversation directory.
func (s *Session) Directory() *Directory { return s.directory }

// Attachments returns the attachment pipeline feeding the next send.
func (s *Session) Attachments() *AttachmentPipeline { return s.attachments }

// Sync returns the sync controller, mainly for state inspection.
func (s *Session) Sync() *SyncController { return s.sync }

// OnConversationUpdate registers a callback fired after every applied
// realtime event for the active conversation.
func (s *Session) OnConversationUpdate(fn func(conversationID string)) {
	s.sync.OnChange(fn)
}

// Start hooks the session to auth transitions and performs the initial
// contact and chat load once a user is present.
func (s *Session) Start(ctx context.Context) error {
	release := s.backend.Auth().OnChange(func(u *User) {
		s.SetUser(u)
		if u != nil {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("initial refresh failed", zap.Error(err))
			}
		}
	})
	s.subs.set("auth", release)
	return nil
}

// Close releases every subscription the session holds.
func (s *Session) Close() {
	s.sync.Deactivate()
	s.subs.releaseAll()
	s.attachments.Reset()
}

// SetUser installs the signed-in user. Any identity change, sign-out
// included, clears all conversation state: directory, store, selection,
// compose state. Re-setting the same user keeps it.
func (s *Session) SetUser(u *User) {
	s.mu.Lock()
	prev := s.user
	s.user = u
	changed := (prev == nil) != (u == nil) || (prev != nil && u != nil && prev.ID != u.ID)
	if changed {
		s.peer = nil
		s.convID = ""
		s.editing = ""
		s.contacts = make(map[string]User)
	}
	s.mu.Unlock()

	if changed {
		s.sync.Deactivate()
		s.store.Clear()
		s.directory.Merge(nil, "", nil)
		s.attachments.Reset()
	}
}

// User returns the signed-in user, or nil.
func (s *Session) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Peer returns the selected conversation partner, or nil.
func (s *Session) Peer() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// ActiveConversation returns the selected conversation id, or "".
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Refresh reloads the contact list and the chat rows and re-merges the
// directory.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return validationErrorf("not signed in")
	}

	users, err := s.backend.Users().ListAllExcept(ctx, user.Email)
	if err != nil {
		return remoteError("list users", err)
	}
	s.mu.Lock()
	s.contacts = make(map[string]User, len(users))
	for _, u := range users {
		s.contacts[u.ID] = u
	}
	s.mu.Unlock()

	chats, err := s.backend.Chats().GetForUser(ctx, user.Email)
	if err != nil {
		return remoteError("load chats", err)
	}
	s.directory.Merge(chats, user.ID, s.resolveUser(ctx))
	return nil
}

// resolveUser resolves a participant id against the contact cache, falling
// back to a backend read for users the cache has not seen.
func (s *Session) resolveUser(ctx context.Context) UserResolver {
	return func(id string) (User, bool) {
		s.mu.Lock()
		u, ok := s.contacts[id]
		s.mu.Unlock()
		if ok {
			return u, true
		}
		u, err := s.backend.Users().Get(ctx, id)
		if err != nil {
			return User{}, false
		}
		s.mu.Lock()
		s.contacts[id] = u
		s.mu.Unlock()
		return u, true
	}
}

// Contacts returns the ranked contact list: active conversations by recency,
// never-chatted contacts after them alphabetically.
func (s *Session) Contacts() []ContactEntry {
	s.mu.Lock()
	users := make([]User, 0, len(s.contacts))
	for _, u := range s.contacts {
		users = append(users, u)
	}
	s.mu.Unlock()
	// Map iteration order must not leak into ties in the ranking.
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return s.directory.Rank(users)
}

// SearchContacts filters the ranked contact list without touching it.
func (s *Session) SearchContacts(term string) []ContactEntry {
	return Filter(s.Contacts(), term)
}

// SelectPeer makes a contact the active conversation: derives the pair's
// conversation id, clears ephemeral compose state, and moves the realtime
// subscription over. Re-selecting the live peer is a no-op; re-selecting a
// peer whose subscribe previously failed retries it.
func (s *Session) SelectPeer(ctx context.Context, peer User) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return validationErrorf("not signed in")
	}
	convID := ConversationID(user.ID, peer.ID)
	if convID == "" {
		return validationErrorf("missing conversation id")
	}

	s.mu.Lock()
	s.peer = &peer
	s.convID = convID
	s.editing = ""
	s.mu.Unlock()

	// The controller decides idempotency: it no-ops only while the same
	// conversation is live or subscribing, so a failed subscribe stays
	// retryable by selecting the peer again.
	return s.sync.Activate(ctx, convID)
}

// ClearSelection deselects the active conversation and releases its
// subscription.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.peer = nil
	s.convID = ""
	s.editing = ""
	s.mu.Unlock()
	s.sync.Deactivate()
	s.store.Clear()
}
