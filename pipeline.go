package pairchat

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ============================================================================
// Mutation pipeline
// ============================================================================
//
// Every mutation is confirm-then-apply: the remote write happens first and
// the local store only changes once the backend has acknowledged it. A
// failed send therefore leaves no ghost message behind, and the realtime
// feed never has to reconcile a fabricated id.

// defaultLabelFor picks the text shown when a message carries attachments
// but no typed text.
func defaultLabelFor(attachments []Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	switch attachments[0].Kind {
	case KindImage:
		return "Photo"
	case KindVideo:
		return "Video"
	case KindAudio:
		return "Voice message"
	}
	return "File"
}

// lastMessageLabel is what the conversation directory shows for a message.
func lastMessageLabel(m Message) string {
	if m.Text != "" {
		return m.Text
	}
	return defaultLabelFor(m.Attachments)
}

// SendMessage sends the typed text plus every staged attachment to the
// active conversation. Single-flight: a second call while one is in flight
// returns a validation error instead of double-sending. The compose state
// (staged files, preview) is consumed whether or not every upload succeeds;
// failed uploads are reported but do not block the send of the survivors.
func (s *Session) SendMessage(ctx context.Context, text string) (Message, []UploadFailure, error) {
	s.mu.Lock()
	user := s.user
	peer := s.peer
	convID := s.convID
	if s.sending {
		s.mu.Unlock()
		return Message{}, nil, validationErrorf("a send is already in flight")
	}
	s.sending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	if user == nil {
		return Message{}, nil, validationErrorf("not signed in")
	}
	if convID == "" || peer == nil {
		return Message{}, nil, validationErrorf("no conversation selected")
	}

	text = strings.TrimSpace(text)
	attachments, failures := s.attachments.UploadAll(ctx, convID, user.ID)
	if text == "" && len(attachments) == 0 {
		return Message{}, failures, validationErrorf("nothing to send")
	}
	body := text
	if body == "" {
		body = defaultLabelFor(attachments)
	}

	msg, err := s.backend.Messages().Send(ctx, body, convID, user.ID, peer.ID, attachments)
	if err != nil {
		return Message{}, failures, remoteError("send", err)
	}

	// The user may have switched conversations while the request was in
	// flight; a confirmation for a stale conversation must not leak into
	// the new store.
	s.mu.Lock()
	stillActive := s.convID == convID
	s.mu.Unlock()
	if stillActive {
		s.store.Insert(msg)
	} else {
		s.logger.Debug("dropping send confirmation for inactive conversation",
			zap.String("conversation", convID))
	}

	s.directory.Touch(convID, lastMessageLabel(msg), msg.CreatedAt)
	return msg, failures, nil
}

// StartEditing marks a message as the edit target. Only the sender's own
// confirmed messages are editable.
func (s *Session) StartEditing(messageID string) error {
	msg, ok := s.store.Get(messageID)
	if !ok {
		return validationErrorf("message %s not found", messageID)
	}
	if err := s.authorizeMutation("edit", msg); err != nil {
		return err
	}
	s.mu.Lock()
	s.editing = messageID
	s.mu.Unlock()
	return nil
}

// CancelEditing clears the edit target without issuing a mutation.
func (s *Session) CancelEditing() {
	s.mu.Lock()
	s.editing = ""
	s.mu.Unlock()
}

// Editing returns the id of the message being edited, or "".
func (s *Session) Editing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// EditMessage rewrites a message's text in place. Remote first, then the
// local patch with the edited markers; the directory preview only changes
// when the edited message is the conversation's newest.
func (s *Session) EditMessage(ctx context.Context, messageID, text string) error {
	s.mu.Lock()
	convID := s.convID
	s.mu.Unlock()
	if convID == "" {
		return validationErrorf("no conversation selected")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return validationErrorf("edited text must not be empty")
	}

	msg, ok := s.store.Get(messageID)
	if !ok {
		return validationErrorf("message %s not found", messageID)
	}
	if err := s.authorizeMutation("edit", msg); err != nil {
		return err
	}

	if err := s.backend.Messages().Update(ctx, convID, messageID, text, msg.Attachments); err != nil {
		return remoteError("edit", err)
	}

	edited := true
	editedAt := Now()
	s.store.Patch(messageID, MessagePatch{
		Text:     &text,
		Edited:   &edited,
		EditedAt: &editedAt,
	})

	if newest, ok := s.store.Newest(); ok && newest.ID == messageID {
		s.directory.Touch(convID, lastMessageLabel(newest), newest.CreatedAt)
	}

	s.mu.Lock()
	if s.editing == messageID {
		s.editing = ""
	}
	s.mu.Unlock()
	return nil
}

// DeleteMessage removes one of the caller's own messages. confirm gates the
// destructive action; a nil confirm proceeds. Local removal happens before
// the remote delete so the message disappears instantly; if the remote
// delete then fails, the removal stands and the next snapshot restores the
// backend's truth. The directory preview is recomputed from the surviving
// newest message.
func (s *Session) DeleteMessage(ctx context.Context, messageID string, confirm func() bool) error {
	if confirm != nil && !confirm() {
		return nil
	}

	s.mu.Lock()
	convID := s.convID
	s.mu.Unlock()
	if convID == "" {
		return validationErrorf("no conversation selected")
	}

	msg, ok := s.store.Get(messageID)
	if !ok {
		return validationErrorf("message %s not found", messageID)
	}
	if err := s.authorizeMutation("delete", msg); err != nil {
		return err
	}

	s.store.Remove(messageID)
	if newest, ok := s.store.Newest(); ok {
		s.directory.Touch(convID, lastMessageLabel(newest), newest.CreatedAt)
	} else {
		s.directory.Touch(convID, "", Timestamp{})
	}

	if err := s.backend.Messages().Delete(ctx, convID, messageID); err != nil {
		s.logger.Warn("remote delete failed, awaiting snapshot",
			zap.String("message", messageID),
			zap.Error(err))
		return remoteError("delete", err)
	}
	return nil
}

// DeleteConversation removes a conversation and everything in it. confirm
// gates the destructive action; a nil confirm proceeds. The directory row
// goes first so the list reacts instantly; if the deleted conversation is
// the active one, the selection and store are cleared before the remote
// cascade is issued.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string, confirm func() bool) error {
	if confirm != nil && !confirm() {
		return nil
	}
	if conversationID == "" {
		return validationErrorf("missing conversation id")
	}

	s.directory.RemoveByID(conversationID)

	s.mu.Lock()
	wasActive := s.convID == conversationID
	if wasActive {
		s.peer = nil
		s.convID = ""
		s.editing = ""
	}
	s.mu.Unlock()
	if wasActive {
		s.sync.Deactivate()
		s.store.Clear()
	}

	if err := s.backend.Chats().Delete(ctx, conversationID); err != nil {
		return remoteError("delete conversation", err)
	}
	return nil
}

// authorizeMutation fails unless the message is the current user's own
// confirmed message.
func (s *Session) authorizeMutation(op string, msg Message) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil || msg.SenderID != user.ID || msg.IsPlaceholder() {
		return &AuthorizationError{Op: op, MessageID: msg.ID}
	}
	return nil
}
