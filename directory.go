package pairchat

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Conversation Directory
// ============================================================================

// ConversationSummary is a chat row denormalized for display: the resolved
// other participant plus the last-message fields.
type ConversationSummary struct {
	ID            string    `json:"id"`
	OtherUser     User      `json:"otherUser"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt Timestamp `json:"lastMessageAt"`
}

// ContactEntry is one row of the ranked contact list: a known user joined
// with their conversation summary, if any exists yet.
type ContactEntry struct {
	User          User
	ChatID        string
	LastMessage   string
	LastMessageAt Timestamp
}

// HasChat reports whether the contact has an existing conversation.
func (e ContactEntry) HasChat() bool {
	return e.ChatID != ""
}

// UserResolver looks up a user by id, typically against the session's
// contact cache with a backend fallback.
type UserResolver func(id string) (User, bool)

// Directory holds the merged conversation summaries for the signed-in user.
type Directory struct {
	mu        sync.RWMutex
	summaries []ConversationSummary
	logger    *zap.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{logger: logger}
}

// Merge rebuilds the directory from raw chat rows. For each row the other
// participant is resolved through resolve; rows whose lookup fails are
// dropped with a warning rather than failing the merge. The merged list is
// stored and returned.
func (d *Directory) Merge(chats []Chat, currentUserID string, resolve UserResolver) []ConversationSummary {
	merged := make([]ConversationSummary, 0, len(chats))
	for _, chat := range chats {
		otherID := chat.OtherParticipant(currentUserID)
		if otherID == "" {
			d.logger.Warn("chat row does not include current user, dropping",
				zap.String("chatId", chat.ID))
			continue
		}
		other, ok := resolve(otherID)
		if !ok {
			d.logger.Warn("cannot resolve chat participant, dropping",
				zap.String("chatId", chat.ID),
				zap.String("participantId", otherID))
			continue
		}
		merged = append(merged, ConversationSummary{
			ID:            chat.ID,
			OtherUser:     other,
			LastMessage:   chat.LastMessage,
			LastMessageAt: chat.LastMessageAt,
		})
	}

	d.mu.Lock()
	d.summaries = merged
	d.mu.Unlock()
	return d.List()
}

// List returns a copy of the current summaries in merge order.
func (d *Directory) List() []ConversationSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ConversationSummary(nil), d.summaries...)
}

// Get returns the summary for a conversation id.
func (d *Directory) Get(id string) (ConversationSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.summaries {
		if s.ID == id {
			return s, true
		}
	}
	return ConversationSummary{}, false
}

// RemoveByID drops a conversation immediately after a successful
// delete-conversation mutation, instead of waiting for the next snapshot.
func (d *Directory) RemoveByID(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.summaries {
		if s.ID == id {
			d.summaries = append(d.summaries[:i], d.summaries[i+1:]...)
			return true
		}
	}
	return false
}

// Touch updates a conversation's last-message fields in place, keeping the
// directory responsive between snapshots. Missing ids are ignored.
func (d *Directory) Touch(id, lastMessage string, at Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.summaries {
		if d.summaries[i].ID == id {
			d.summaries[i].LastMessage = lastMessage
			d.summaries[i].LastMessageAt = at
			return
		}
	}
}

// Rank joins the full contact list against the directory and orders it for
// display: contacts with an active conversation first, most recent message
// first; contacts never chatted with after them, alphabetically by name.
func (d *Directory) Rank(contacts []User) []ContactEntry {
	d.mu.RLock()
	byUser := make(map[string]ConversationSummary, len(d.summaries))
	for _, s := range d.summaries {
		byUser[s.OtherUser.ID] = s
	}
	d.mu.RUnlock()

	entries := make([]ContactEntry, 0, len(contacts))
	for _, u := range contacts {
		e := ContactEntry{User: u}
		if s, ok := byUser[u.ID]; ok {
			e.ChatID = s.ID
			e.LastMessage = s.LastMessage
			e.LastMessageAt = s.LastMessageAt
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.HasChat() && !b.HasChat():
			return true
		case !a.HasChat() && b.HasChat():
			return false
		case a.HasChat():
			return a.LastMessageAt.After(b.LastMessageAt)
		default:
			return strings.ToLower(a.User.Name()) < strings.ToLower(b.User.Name())
		}
	})
	return entries
}

// Filter is a pure projection over a ranked list: case-insensitive
// substring match on username or display name. The input is never mutated.
func Filter(entries []ContactEntry, term string) []ContactEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return append([]ContactEntry(nil), entries...)
	}
	var out []ContactEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.User.Username), term) ||
			strings.Contains(strings.ToLower(e.User.DisplayName), term) {
			out = append(out, e)
		}
	}
	return out
}
