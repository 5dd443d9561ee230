// Package pairchat is the conversation engine of a one-to-one messaging
// client: deterministic conversation identity, a normalized message store,
// a ranked conversation directory, realtime sync with stale-event
// protection, and a confirm-then-apply mutation pipeline for sends, edits,
// deletes, and attachment uploads.
//
// Example:
//
//	client := pairchat.NewClient(pairchat.WithBaseURL("https://chat.example.com"))
//	session := pairchat.NewSession(client)
//	session.Start(ctx)
//
//	user, _ := client.Auth().SignIn(ctx, "me@example.com", "secret")
//	session.SelectPeer(ctx, somePeer)
//	session.SendMessage(ctx, "hello")
package pairchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is where the hosted backend lives.
	DefaultBaseURL = "https://api.pairchat.dev"
	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP implementation of Backend. Zero-value construction is
// not supported; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	token string
	feed  *RealtimeFeed

	auth     *authClient
	users    *usersClient
	chats    *chatsClient
	messages *messagesClient
	storage  *storageClient
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different backend.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client entirely.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithClientLogger installs a structured logger; the default is a no-op
// logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client. The token is set on sign-in.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = &authClient{client: c}
	c.users = &usersClient{client: c}
	c.chats = &chatsClient{client: c}
	c.messages = &messagesClient{client: c}
	c.storage = &storageClient{client: c}
	return c
}

// Auth returns the auth service.
func (c *Client) Auth() AuthService { return c.auth }

// Users returns the user directory service.
func (c *Client) Users() UserService { return c.users }

// Chats returns the conversation row service.
func (c *Client) Chats() ChatService { return c.chats }

// Messages returns the message service, realtime feed included.
func (c *Client) Messages() MessageService { return c.messages }

// Storage returns the attachment blob store.
func (c *Client) Storage() BlobStore { return c.storage }

// SetToken sets or updates the bearer token, and hands it to the realtime
// feed for its next connection.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	feed := c.feed
	c.mu.Unlock()
	if feed != nil {
		feed.SetToken(token)
	}
}

// Token returns the current bearer token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// realtime lazily builds the shared realtime feed.
func (c *Client) realtime() *RealtimeFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed == nil {
		c.feed = NewRealtimeFeed(c.baseURL, FeedConfig{
			Token:         c.token,
			AutoReconnect: true,
		}, c.logger)
	}
	return c.feed
}

// ============================================================================
// Internal request helper
// ============================================================================

// apiResult is the backend's uniform response envelope.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (r *apiResult) decode(v any) error {
	if !r.OK {
		if r.Error != nil {
			return r.Error
		}
		return fmt.Errorf("request rejected")
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (*apiResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeJSON[apiResult](data)
}

func (c *Client) setAuthHeader(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Auth
// ============================================================================

type authClient struct {
	client *Client

	mu         sync.Mutex
	listeners  map[uint64]func(*User)
	nextHandle uint64
}

type sessionResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

func (a *authClient) SignIn(ctx context.Context, email, password string) (User, error) {
	res, err := a.client.doRequest(ctx, "POST", "/api/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return User{}, err
	}
	var session sessionResult
	if err := res.decode(&session); err != nil {
		return User{}, err
	}
	a.client.SetToken(session.Token)
	a.notify(&session.User)
	return session.User, nil
}

func (a *authClient) SignUp(ctx context.Context, email, password, username string) (User, error) {
	res, err := a.client.doRequest(ctx, "POST", "/api/auth/signup", map[string]string{
		"email":    email,
		"password": password,
		"username": username,
	}, nil)
	if err != nil {
		return User{}, err
	}
	var session sessionResult
	if err := res.decode(&session); err != nil {
		return User{}, err
	}
	a.client.SetToken(session.Token)
	a.notify(&session.User)
	return session.User, nil
}

func (a *authClient) SignOut(ctx context.Context) error {
	res, err := a.client.doRequest(ctx, "POST", "/api/auth/signout", nil, nil)
	if err == nil {
		err = res.decode(nil)
	}
	// Local sign-out proceeds even when the server call fails; the token is
	// gone either way.
	a.client.SetToken("")
	a.notify(nil)
	return err
}

func (a *authClient) OnChange(fn func(*User)) Unsubscribe {
	a.mu.Lock()
	if a.listeners == nil {
		a.listeners = make(map[uint64]func(*User))
	}
	a.nextHandle++
	handle := a.nextHandle
	a.listeners[handle] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, handle)
		a.mu.Unlock()
	}
}

func (a *authClient) notify(u *User) {
	a.mu.Lock()
	fns := make([]func(*User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// ============================================================================
// Users
// ============================================================================

type usersClient struct{ client *Client }

func (u *usersClient) Get(ctx context.Context, id string) (User, error) {
	res, err := u.client.doRequest(ctx, "GET", "/api/users/"+id, nil, nil)
	if err != nil {
		return User{}, err
	}
	var user User
	if err := res.decode(&user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (u *usersClient) ListAllExcept(ctx context.Context, selfEmail string) ([]User, error) {
	res, err := u.client.doRequest(ctx, "GET", "/api/users", nil, map[string]string{
		"excludeEmail": selfEmail,
	})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := res.decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}

func (u *usersClient) Search(ctx context.Context, term string) ([]User, error) {
	res, err := u.client.doRequest(ctx, "GET", "/api/users/search", nil, map[string]string{
		"q": term,
	})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := res.decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}

// ============================================================================
// Chats
// ============================================================================

type chatsClient struct{ client *Client }

func (c *chatsClient) GetForUser(ctx context.Context, selfEmail string) ([]Chat, error) {
	res, err := c.client.doRequest(ctx, "GET", "/api/chats", nil, map[string]string{
		"email": selfEmail,
	})
	if err != nil {
		return nil, err
	}
	var chats []Chat
	if err := res.decode(&chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *chatsClient) Delete(ctx context.Context, id string) error {
	res, err := c.client.doRequest(ctx, "DELETE", "/api/chats/"+id, nil, nil)
	if err != nil {
		return err
	}
	return res.decode(nil)
}

// ============================================================================
// Messages
// ============================================================================

type messagesClient struct{ client *Client }

func (m *messagesClient) Send(ctx context.Context, text, conversationID, fromID, toID string, attachments []Attachment) (Message, error) {
	payload := map[string]interface{}{
		"text":           text,
		"conversationId": conversationID,
		"fromId":         fromID,
		"toId":           toID,
		"clientId":       "pc-" + uuid.NewString(),
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}
	res, err := m.client.doRequest(ctx, "POST", "/api/messages", payload, nil)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := res.decode(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m *messagesClient) Update(ctx context.Context, conversationID, messageID, text string, attachments []Attachment) error {
	payload := map[string]interface{}{"text": text}
	if attachments != nil {
		payload["attachments"] = attachments
	}
	res, err := m.client.doRequest(ctx, "PATCH", "/api/messages/"+conversationID+"/"+messageID, payload, nil)
	if err != nil {
		return err
	}
	return res.decode(nil)
}

func (m *messagesClient) Delete(ctx context.Context, conversationID, messageID string) error {
	res, err := m.client.doRequest(ctx, "DELETE", "/api/messages/"+conversationID+"/"+messageID, nil, nil)
	if err != nil {
		return err
	}
	return res.decode(nil)
}

func (m *messagesClient) Subscribe(ctx context.Context, conversationID string, fn func(FeedEvent)) (Unsubscribe, error) {
	feed := m.client.realtime()
	if err := feed.Connect(ctx); err != nil {
		return nil, err
	}
	return feed.Subscribe(ctx, conversationID, fn)
}

// ============================================================================
// Storage
// ============================================================================

type storageClient struct{ client *Client }

// progressReader reports cumulative bytes consumed from the wrapped reader.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}

// Upload posts the file as a multipart form and returns the stored
// attachment record. onProgress follows the request body over the wire.
func (s *storageClient) Upload(ctx context.Context, file File, conversationID, uploaderID string, onProgress func(sent, total int64)) (Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("conversationId", conversationID)
	_ = w.WriteField("uploaderId", uploaderID)
	_ = w.WriteField("mimeType", file.MimeType)

	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return Attachment{}, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	total := int64(buf.Len())
	var body io.Reader = &buf
	if onProgress != nil {
		body = &progressReader{r: &buf, total: total, fn: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.client.baseURL+"/api/uploads", body)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", w.FormDataContentType())
	s.client.setAuthHeader(req)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return Attachment{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Attachment{}, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attachment{}, fmt.Errorf("read upload response: %w", err)
	}
	res, err := decodeJSON[apiResult](data)
	if err != nil {
		return Attachment{}, err
	}
	var att Attachment
	if err := res.decode(&att); err != nil {
		return Attachment{}, err
	}
	if att.Kind == "" {
		att.Kind = kindForMime(file.MimeType)
	}
	if att.OriginalName == "" {
		att.OriginalName = file.Name
	}
	if att.SizeBytes == 0 {
		att.SizeBytes = file.size()
	}
	return att, nil
}
