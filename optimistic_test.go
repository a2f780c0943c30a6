package buzzsway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =======================================================================
// Engine
// =======================================================================

func TestEngineRunSuccess(t *testing.T) {
	engine := NewEngine(OptimisticConfig{}, nil)

	var applied, called, reconciled, rolledBack int
	err := engine.Run(testContext(t), Mutation{
		Name:      "test",
		Apply:     func() { applied++ },
		Rollback:  func() { rolledBack++ },
		Call:      func(context.Context) error { called++; return nil },
		Reconcile: func(context.Context) error { reconciled++; return nil },
	})

	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, called)
	assert.Equal(t, 1, reconciled)
	assert.Equal(t, 0, rolledBack)
}

func TestEngineCallFailureKeepsOptimisticState(t *testing.T) {
	engine := NewEngine(OptimisticConfig{}, nil)
	callErr := errors.New("network down")

	var reconciled, rolledBack int
	err := engine.Run(testContext(t), Mutation{
		Name:      "like",
		Apply:     func() {},
		Rollback:  func() { rolledBack++ },
		Call:      func(context.Context) error { return callErr },
		Reconcile: func(context.Context) error { reconciled++; return nil },
	})

	require.ErrorIs(t, err, callErr)
	assert.Equal(t, 0, rolledBack, "default behavior keeps the optimistic state")
	assert.Equal(t, 0, reconciled, "a failed call must not trigger reconcile")
}

func TestEngineRollbackOnFailureFlag(t *testing.T) {
	engine := NewEngine(OptimisticConfig{RollbackOnFailure: true}, nil)

	var rolledBack int
	err := engine.Run(testContext(t), Mutation{
		Name:     "like",
		Apply:    func() {},
		Rollback: func() { rolledBack++ },
		Call:     func(context.Context) error { return errors.New("boom") },
	})

	require.Error(t, err)
	assert.Equal(t, 1, rolledBack)
}

func TestEngineReconcileErrorIsSwallowed(t *testing.T) {
	engine := NewEngine(OptimisticConfig{}, nil)

	err := engine.Run(testContext(t), Mutation{
		Name:      "like",
		Apply:     func() {},
		Call:      func(context.Context) error { return nil },
		Reconcile: func(context.Context) error { return errors.New("refetch failed") },
	})
	assert.NoError(t, err, "reconcile failures are transient, not surfaced")
}

// =======================================================================
// Post cache
// =======================================================================

func TestPostCacheToggleLike(t *testing.T) {
	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", Likes: []string{"u2"}}})

	cache.toggleLike("p1", "u1")
	p, ok := cache.Get("p1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"u1", "u2"}, p.Likes)

	cache.toggleLike("p1", "u1")
	p, _ = cache.Get("p1")
	assert.Equal(t, []string{"u2"}, p.Likes)

	// Unknown post is a no-op.
	cache.toggleLike("nope", "u1")
}

func TestPostCacheComments(t *testing.T) {
	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1"}})

	cache.addComment("p1", Comment{ID: "c1", Text: "first"})
	cache.addComment("p1", Comment{ID: "c2", Text: "second"})
	p, _ := cache.Get("p1")
	require.Len(t, p.Comments, 2)

	removed, ok := cache.removeComment("p1", "c1")
	require.True(t, ok)
	assert.Equal(t, "first", removed.Text)
	p, _ = cache.Get("p1")
	require.Len(t, p.Comments, 1)
	assert.Equal(t, "c2", p.Comments[0].ID)

	_, ok = cache.removeComment("p1", "missing")
	assert.False(t, ok)
}

// =======================================================================
// Post mutator
// =======================================================================

// postServer is the backend stub for mutator tests: it counts like
// calls and serves the owner's posts as the reconciling read.
func postServer(t *testing.T, likeCalls *atomic.Int64, ownerPostsJSON func() string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/posts/p1/like":
			likeCalls.Add(1)
			fmt.Fprint(w, `{}`)
		case r.Method == "POST" && r.URL.Path == "/posts/p1/comment":
			fmt.Fprint(w, `{"comment":{"_id":"c9","text":"nice"}}`)
		case r.Method == "DELETE" && r.URL.Path == "/posts/p1/comment/c9":
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"You can only delete your own comments"}`)
		case r.Method == "GET" && r.URL.Path == "/posts/user/owner1":
			fmt.Fprint(w, ownerPostsJSON())
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewClient("tok", WithBaseURL(srv.URL))
}

func TestToggleLikeReconcilesFromOwnerBatch(t *testing.T) {
	var likeCalls atomic.Int64
	client := postServer(t, &likeCalls, func() string {
		return `[{"_id":"p1","user":{"_id":"owner1","username":"owner"},"likes":["u1","zz"]},
		         {"_id":"p2","user":{"_id":"owner1","username":"owner"},"likes":[]}]`
	})

	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", User: PostAuthor{ID: "owner1"}, Likes: []string{}}})

	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewPostMutator(engine, client.Posts(), cache, testSession())

	require.NoError(t, mutator.ToggleLike(testContext(t), "p1", "owner1"))
	assert.EqualValues(t, 1, likeCalls.Load())

	// Server truth overwrote the local toggle.
	p, ok := cache.Get("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"u1", "zz"}, p.Likes)

	// Only the targeted post was patched in.
	_, ok = cache.Get("p2")
	assert.False(t, ok)
}

func TestDoubleToggleLikeIssuesTwoCalls(t *testing.T) {
	var likeCalls atomic.Int64
	client := postServer(t, &likeCalls, func() string {
		if likeCalls.Load()%2 == 1 {
			return `[{"_id":"p1","user":{"_id":"owner1","username":"owner"},"likes":["u1"]}]`
		}
		return `[{"_id":"p1","user":{"_id":"owner1","username":"owner"},"likes":[]}]`
	})

	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", User: PostAuthor{ID: "owner1"}}})

	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewPostMutator(engine, client.Posts(), cache, testSession())
	ctx := testContext(t)

	require.NoError(t, mutator.ToggleLike(ctx, "p1", "owner1"))
	require.NoError(t, mutator.ToggleLike(ctx, "p1", "owner1"))

	assert.EqualValues(t, 2, likeCalls.Load())
	p, _ := cache.Get("p1")
	assert.Empty(t, p.Likes)
}

func TestAddCommentPlaceholderReplacedByReconcile(t *testing.T) {
	var likeCalls atomic.Int64
	client := postServer(t, &likeCalls, func() string {
		return `[{"_id":"p1","user":{"_id":"owner1","username":"owner"},"comments":[{"_id":"c9","text":"nice"}]}]`
	})

	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", User: PostAuthor{ID: "owner1"}}})

	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewPostMutator(engine, client.Posts(), cache, testSession())

	require.NoError(t, mutator.AddComment(testContext(t), "p1", "owner1", "nice"))

	p, ok := cache.Get("p1")
	require.True(t, ok)
	require.Len(t, p.Comments, 1)
	assert.Equal(t, "c9", p.Comments[0].ID, "placeholder replaced by the server's comment")
}

func TestDeleteCommentFailureSurfacesBackendMessage(t *testing.T) {
	var likeCalls atomic.Int64
	client := postServer(t, &likeCalls, nil)

	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", User: PostAuthor{ID: "owner1"}, Comments: []Comment{{ID: "c9", Text: "nice"}}}})

	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewPostMutator(engine, client.Posts(), cache, testSession())

	err := mutator.DeleteComment(testContext(t), "p1", "owner1", "c9")
	require.Error(t, err)
	assert.Equal(t, "You can only delete your own comments", UserMessage(err, "Failed to delete comment."))

	// Default config: no rollback, no reconcile after a failed call, so
	// the optimistic removal sticks until the next reconciling read.
	p, _ := cache.Get("p1")
	assert.Empty(t, p.Comments)
}

func TestDeleteCommentRollbackOnFailure(t *testing.T) {
	var likeCalls atomic.Int64
	client := postServer(t, &likeCalls, nil)

	cache := NewPostCache()
	cache.Load([]Post{{ID: "p1", User: PostAuthor{ID: "owner1"}, Comments: []Comment{{ID: "c9", Text: "nice"}}}})

	engine := NewEngine(OptimisticConfig{RollbackOnFailure: true}, nil)
	mutator := NewPostMutator(engine, client.Posts(), cache, testSession())

	require.Error(t, mutator.DeleteComment(testContext(t), "p1", "owner1", "c9"))

	p, _ := cache.Get("p1")
	require.Len(t, p.Comments, 1)
	assert.Equal(t, "c9", p.Comments[0].ID)
}

// =======================================================================
// Follow mutator
// =======================================================================

func TestToggleFollowReconcilesProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/users/p9/follow":
			fmt.Fprint(w, `{}`)
		case r.Method == "GET" && r.URL.Path == "/users/p9":
			fmt.Fprint(w, `{"_id":"p9","username":"dave","followers":["u1","u7"],"following":[]}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()
	client := NewClient("tok", WithBaseURL(srv.URL))

	profile := User{ID: "p9", Username: "dave", Followers: []string{"u7"}}
	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewFollowMutator(engine, client.Users(), testSession(), profile)

	require.False(t, mutator.Following())
	require.NoError(t, mutator.ToggleFollow(testContext(t)))

	assert.True(t, mutator.Following())
	assert.ElementsMatch(t, []string{"u1", "u7"}, mutator.Profile().Followers)
}

func TestToggleFollowFailureKeepsOptimisticEdge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"oops"}`)
	}))
	defer srv.Close()
	client := NewClient("tok", WithBaseURL(srv.URL))

	profile := User{ID: "p9", Username: "dave"}
	engine := NewEngine(OptimisticConfig{}, nil)
	mutator := NewFollowMutator(engine, client.Users(), testSession(), profile)

	require.Error(t, mutator.ToggleFollow(testContext(t)))
	assert.True(t, mutator.Following(), "no rollback by default")
}
