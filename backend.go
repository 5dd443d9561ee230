package pairchat

import "context"

// ============================================================================
// Backend collaborator interfaces
// ============================================================================
//
// The engine consumes exactly these logical operations. Credential
// persistence, durable storage, the realtime transport, and the blob store
// all live behind them; client.go and realtime.go provide an HTTP/WebSocket
// implementation, tests provide fakes.

// AuthService is the external auth provider.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (User, error)
	SignUp(ctx context.Context, email, password, username string) (User, error)
	SignOut(ctx context.Context) error
	// OnChange invokes fn with the current user, or nil once signed out, on
	// every auth transition. The returned handle stops the notifications.
	OnChange(fn func(*User)) Unsubscribe
}

// UserService reads user records.
type UserService interface {
	Get(ctx context.Context, id string) (User, error)
	ListAllExcept(ctx context.Context, selfEmail string) ([]User, error)
	Search(ctx context.Context, term string) ([]User, error)
}

// ChatService reads and deletes conversation rows. Conversation creation is
// implicit: the backend creates the row as a side effect of the first send.
type ChatService interface {
	GetForUser(ctx context.Context, selfEmail string) ([]Chat, error)
	// Delete removes the conversation and cascades to its messages.
	Delete(ctx context.Context, id string) error
}

// MessageService mutates messages and exposes the realtime feed.
type MessageService interface {
	MessageFeed
	// Send persists a message, creating or touching the owning conversation
	// as a side effect, and returns the persisted record with its backend id.
	Send(ctx context.Context, text, conversationID, fromID, toID string, attachments []Attachment) (Message, error)
	// Update is sender-scoped: text plus the edited markers, attachments
	// preserved unless replaced.
	Update(ctx context.Context, conversationID, messageID, text string, attachments []Attachment) error
	// Delete is sender-scoped; the caller recomputes the conversation's
	// last-message fields afterward.
	Delete(ctx context.Context, conversationID, messageID string) error
}

// BlobStore uploads attachment binaries and returns their public records.
type BlobStore interface {
	// Upload pushes one file. onProgress, when non-nil, is invoked with
	// cumulative (sent, total) byte counts as the transfer advances.
	Upload(ctx context.Context, file File, conversationID, uploaderID string, onProgress func(sent, total int64)) (Attachment, error)
}

// Backend bundles the collaborator surface the engine is constructed with.
type Backend interface {
	Auth() AuthService
	Users() UserService
	Chats() ChatService
	Messages() MessageService
	Storage() BlobStore
}
