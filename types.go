package buzzsway

import (
	"errors"
	"fmt"
)

// ============================================================================
// Errors
// ============================================================================

// APIError is the error payload returned by the BuzzSway API.
type APIError struct {
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// RequestError wraps a non-2xx response from the API.
type RequestError struct {
	StatusCode int
	Method     string
	Path       string
	API        *APIError
}

func (e *RequestError) Error() string {
	if e.API != nil && e.API.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.API.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
}

// UserMessage returns a message suitable for direct display: the backend's
// error payload when present, otherwise the given fallback.
func UserMessage(err error, fallback string) string {
	var re *RequestError
	if errors.As(err, &re) && re.API != nil && re.API.Message != "" {
		return re.API.Message
	}
	return fallback
}

// ============================================================================
// Session
// ============================================================================

// Session is the authenticated identity the core components depend on.
// It is created by login/register (or loaded from a SessionStore) and is
// read-only to the messaging and presence layers.
type Session struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

// SessionUser is the identity object returned by the auth endpoints.
type SessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// AuthData is the login/register response body.
type AuthData struct {
	User  SessionUser `json:"user"`
	Token string      `json:"token"`
}

// Session converts an auth response into a Session.
func (d *AuthData) Session() *Session {
	return &Session{
		UserID:   d.User.ID,
		Username: d.User.Username,
		Token:    d.Token,
	}
}

// ============================================================================
// Users
// ============================================================================

// User is a full user record as returned by the users endpoints.
// Followers and Following hold actor user ids.
type User struct {
	ID        string   `json:"_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Followers []string `json:"followers,omitempty"`
	Following []string `json:"following,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

// EditProfileOptions is the payload for profile edits.
type EditProfileOptions struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// ============================================================================
// Posts
// ============================================================================

// PostAuthor is the populated author reference on a post.
type PostAuthor struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

// CommentAuthor is the populated author reference on a comment.
type CommentAuthor struct {
	ID       string `json:"_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Comment is a single comment on a post.
type Comment struct {
	ID        string        `json:"_id,omitempty"`
	Text      string        `json:"text"`
	PostedBy  CommentAuthor `json:"postedBy"`
	CreatedAt string        `json:"createdAt,omitempty"`
}

// Post is a feed entry. Likes holds the ids of users who liked the post;
// optimistic toggles flip membership there before the server confirms.
type Post struct {
	ID        string     `json:"_id"`
	User      PostAuthor `json:"user"`
	Caption   string     `json:"caption"`
	Image     string     `json:"image,omitempty"`
	Likes     []string   `json:"likes,omitempty"`
	Comments  []Comment  `json:"comments,omitempty"`
	CreatedAt string     `json:"createdAt,omitempty"`
}

// Liked reports whether userID is in the post's likes set.
func (p *Post) Liked(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// Messages
// ============================================================================

// Message is a direct message between two users. ID is assigned by the
// backend and is absent on live pushes that have not been persisted yet;
// CreatedAt is an RFC 3339 timestamp and is stamped on receipt if missing.
type Message struct {
	ID        string `json:"_id,omitempty"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// dedupKey identifies a message for duplicate suppression: the backend id
// when present, otherwise the (sender, receiver, createdAt, content) tuple.
func (m *Message) dedupKey() string {
	if m.ID != "" {
		return "id\x1f" + m.ID
	}
	return m.Sender + "\x1f" + m.Receiver + "\x1f" + m.CreatedAt + "\x1f" + m.Content
}

// between reports whether the message belongs to the conversation between
// a and b, treating the pair as unordered.
func (m *Message) between(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}
