package pairchat

import "fmt"

// ============================================================================
// Domain model
// ============================================================================

// User is a registered account as the backend reports it. The engine treats
// users as read-only reference data: identity is the immutable ID, the
// profile fields may change between reads.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name returns the best human-readable label for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Chat is a raw conversation row as the backend stores it. Its ID is always
// derived via ConversationID, never server-generated.
type Chat struct {
	ID            string    `json:"id"`
	ParticipantA  string    `json:"participantA"`
	ParticipantB  string    `json:"participantB"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt Timestamp `json:"lastMessageAt"`
}

// OtherParticipant returns the participant that is not selfID, or "" when
// selfID is not part of the chat at all.
func (c Chat) OtherParticipant(selfID string) string {
	switch selfID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// AttachmentKind classifies an attachment for display and labeling.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindAudio AttachmentKind = "audio"
	KindFile  AttachmentKind = "file"
)

// Attachment is an uploaded binary object referenced by exactly one message.
// Immutable once created.
type Attachment struct {
	URL          string         `json:"url"`
	Kind         AttachmentKind `json:"kind"`
	OriginalName string         `json:"originalName"`
	SizeBytes    int64          `json:"sizeBytes"`
	MimeType     string         `json:"mimeType"`
}

// Message is one message within a conversation. The ID is assigned by the
// backend on insert; the engine never exposes a locally fabricated id to the
// store (see Session.SendMessage).
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      Timestamp    `json:"createdAt"`
	Edited         bool         `json:"edited,omitempty"`
	EditedAt       Timestamp    `json:"editedAt,omitempty"`
}

// localIDPrefix marks placeholder ids that have not been confirmed by the
// backend. Mutations refuse to target them.
const localIDPrefix = "local-"

// IsPlaceholder reports whether the message carries a transient local id.
func (m Message) IsPlaceholder() bool {
	return len(m.ID) > len(localIDPrefix) && m.ID[:len(localIDPrefix)] == localIDPrefix
}

// ============================================================================
// Error taxonomy
// ============================================================================

// APIError is a structured error returned by the backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ValidationError rejects an operation before any network call is made:
// empty send with no attachments, missing conversation id, oversized or
// unsupported file. Callers show an inline hint, never a failure toast.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError means the caller tried to mutate a message it does not
// own. The UI is expected to never offer the affordance; the pipeline fails
// safe with this error instead of issuing the mutation.
type AuthorizationError struct {
	Op        string
	MessageID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s message %s", e.Op, e.MessageID)
}

// RemoteError wraps a network or backend failure on subscribe, send, edit,
// delete, or upload. Always recoverable and retryable from the caller's
// point of view; optimistic state predicated on success has been rolled back
// by the time it is returned.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteError(op string, err error) *RemoteError {
	return &RemoteError{Op: op, Err: err}
}
