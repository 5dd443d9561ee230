package pairchat

import (
	"sort"
	"sync"
)

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the messages of the currently active conversation.
// Insertion order is preserved as stored; display order is produced lazily
// by Sorted. Only the SyncController and the mutation pipeline write to it;
// the UI reads.
//
// The store does not deduplicate by id: callers must not double-insert. The
// engine guarantees this by only inserting backend-confirmed messages (see
// Session.SendMessage) and otherwise replacing wholesale from snapshots.
type MessageStore struct {
	mu       sync.RWMutex
	messages []Message
	sorted   []Message
	dirty    bool
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// ReplaceAll swaps the entire message set for a fresh snapshot. Idempotent:
// replaying the same snapshot yields the same sorted output.
func (s *MessageStore) ReplaceAll(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages[:0:0], msgs...)
	s.dirty = true
}

// Insert appends one message in arrival order.
func (s *MessageStore) Insert(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.dirty = true
}

// MessagePatch is a shallow field merge applied by Patch. Nil fields are
// left untouched.
type MessagePatch struct {
	Text        *string
	Attachments *[]Attachment
	Edited      *bool
	EditedAt    *Timestamp
}

// Patch merges the set fields into the message with the given id. No-op
// when the id is absent; reports whether a message was updated.
func (s *MessageStore) Patch(id string, patch MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if patch.Text != nil {
			s.messages[i].Text = *patch.Text
		}
		if patch.Attachments != nil {
			s.messages[i].Attachments = *patch.Attachments
		}
		if patch.Edited != nil {
			s.messages[i].Edited = *patch.Edited
		}
		if patch.EditedAt != nil {
			s.messages[i].EditedAt = *patch.EditedAt
		}
		s.dirty = true
		return true
	}
	return false
}

// Remove deletes the message with the given id. No-op when absent.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// Get returns the message with the given id.
func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Sorted returns the display-ordered messages: non-decreasing CreatedAt,
// ties kept in insertion order. The result is cached until the next
// mutation and never aliases internal state.
func (s *MessageStore) Sorted() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty || s.sorted == nil {
		s.sorted = append(s.sorted[:0:0], s.messages...)
		sort.SliceStable(s.sorted, func(i, j int) bool {
			return s.sorted[i].CreatedAt.Before(s.sorted[j].CreatedAt)
		})
		s.dirty = false
	}
	return append([]Message(nil), s.sorted...)
}

// Newest returns the message with the latest CreatedAt, used to recompute a
// conversation's last-message fields after an edit or delete.
func (s *MessageStore) Newest() (Message, bool) {
	msgs := s.Sorted()
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Clear drops every message, used when the active conversation is switched
// or deleted.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.sorted = nil
	s.dirty = false
}
