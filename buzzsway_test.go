package buzzsway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// =======================================================================
// Client construction
// =======================================================================

func TestNewClientDefaults(t *testing.T) {
	client := NewClient("tok")
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.NotNil(t, client.Auth())
	assert.NotNil(t, client.Users())
	assert.NotNil(t, client.Posts())
	assert.NotNil(t, client.Messages())
}

func TestWithBaseURLTrimsTrailingSlash(t *testing.T) {
	client := NewClient("", WithBaseURL("http://example.com/api/"))
	assert.Equal(t, "http://example.com/api", client.baseURL)
}

func TestChannelURL(t *testing.T) {
	client := NewClient("", WithBaseURL("http://localhost:5000/api"))
	assert.Equal(t, "ws://localhost:5000/ws", client.ChannelURL())

	client = NewClient("", WithBaseURL("https://buzz.example.com/api"))
	assert.Equal(t, "wss://buzz.example.com/ws", client.ChannelURL())
}

// =======================================================================
// Request plumbing
// =======================================================================

func TestDoRequestSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"user":{"id":"u1","username":"alice","email":"a@b.c"}}`)
	}))
	defer srv.Close()

	client := NewClient("secret-token", WithBaseURL(srv.URL))
	me, err := client.Auth().Me(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "alice", me.Username)
}

func TestDoRequestMapsErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Incorrect password."}`)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL))
	_, err := client.Auth().Login(testContext(t), &Credentials{Email: "a@b.c", Password: "nope"})
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	require.NotNil(t, reqErr.API)
	assert.Equal(t, "Incorrect password.", reqErr.API.Message)
}

func TestUserMessage(t *testing.T) {
	withPayload := &RequestError{
		StatusCode: 400,
		API:        &APIError{Message: "Username already taken."},
	}
	assert.Equal(t, "Username already taken.", UserMessage(withPayload, "Registration failed."))

	withoutPayload := &RequestError{StatusCode: 502}
	assert.Equal(t, "Registration failed.", UserMessage(withoutPayload, "Registration failed."))

	assert.Equal(t, "Something went wrong.", UserMessage(errors.New("dial tcp: refused"), "Something went wrong."))

	wrapped := fmt.Errorf("login: %w", withPayload)
	assert.Equal(t, "Username already taken.", UserMessage(wrapped, "fallback"))
}

func TestDecodeUserListBothShapes(t *testing.T) {
	wrapped := []byte(`{"users":[{"_id":"u1","username":"alice"},{"_id":"u2","username":"bob"}]}`)
	users, err := decodeUserList(wrapped)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)

	bare := []byte(`[{"_id":"u3","username":"carol"}]`)
	users, err = decodeUserList(bare)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].Username)
}

// =======================================================================
// Circuit breaker
// =======================================================================

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithCircuitBreaker("test"))
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		_, err := client.Posts().All(ctx)
		require.Error(t, err)
	}
	require.EqualValues(t, 5, hits.Load())

	// Breaker is open now: the request never reaches the server.
	_, err := client.Posts().All(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.EqualValues(t, 5, hits.Load())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"bad input"}`)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithCircuitBreaker("test"))
	ctx := testContext(t)

	// 4xx responses never trip the breaker, however many there are.
	for i := 0; i < 8; i++ {
		_, err := client.Posts().All(ctx)
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	}
	assert.EqualValues(t, 8, hits.Load())
}

// =======================================================================
// Posts endpoints
// =======================================================================

func TestPostsCreateMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts/u1/create", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello world", r.FormValue("caption"))

		file, header, err := r.FormFile("media")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "pic.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake-png-bytes", string(data))

		fmt.Fprint(w, `{"_id":"p1","caption":"hello world","user":{"_id":"u1","username":"alice"}}`)
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	post, err := client.Posts().Create(testContext(t), "u1", "hello world",
		bytes.NewReader([]byte("fake-png-bytes")), "pic.png")
	require.NoError(t, err)
	assert.Equal(t, "p1", post.ID)
}

func TestPostsLikeSendsUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts/p1/like", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["userId"])
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	require.NoError(t, client.Posts().Like(testContext(t), "p1", "u1"))
}

func TestGuessMediaType(t *testing.T) {
	assert.Equal(t, "image/webp", guessMediaType("a.webp"))
	assert.Equal(t, "video/webm", guessMediaType("clip.WEBM"))
	assert.Equal(t, "image/png", guessMediaType("shot.png"))
	assert.Equal(t, "application/octet-stream", guessMediaType("noext"))
}

// =======================================================================
// Domain types
// =======================================================================

func TestPostLiked(t *testing.T) {
	p := Post{Likes: []string{"u1", "u2"}}
	assert.True(t, p.Liked("u1"))
	assert.False(t, p.Liked("u3"))
}

func TestMessageBetween(t *testing.T) {
	m := Message{Sender: "alice", Receiver: "bob"}
	assert.True(t, m.between("alice", "bob"))
	assert.True(t, m.between("bob", "alice"))
	assert.False(t, m.between("alice", "carol"))
}

func TestMessageDedupKeyPrefersID(t *testing.T) {
	withID := Message{ID: "m1", Sender: "a", Receiver: "b", Content: "x", CreatedAt: "t"}
	sameIDDifferentBody := Message{ID: "m1", Sender: "a", Receiver: "b", Content: "y", CreatedAt: "t2"}
	assert.Equal(t, withID.dedupKey(), sameIDDifferentBody.dedupKey())

	noID := Message{Sender: "a", Receiver: "b", Content: "x", CreatedAt: "t"}
	noIDOther := Message{Sender: "a", Receiver: "b", Content: "x", CreatedAt: "t3"}
	assert.NotEqual(t, noID.dedupKey(), noIDOther.dedupKey())
}
