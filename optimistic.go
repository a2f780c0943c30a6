package buzzsway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Engine
// ============================================================================

// OptimisticConfig configures the mutation engine.
type OptimisticConfig struct {
	// RollbackOnFailure reverses the local change when the mutating call
	// fails. Off by default, matching the encoded behavior: a failed
	// mutation leaves the optimistic state in place and the next
	// reconciling read is the sole correction mechanism.
	RollbackOnFailure bool
}

// Engine runs the optimistic-mutation pattern used for likes, follows,
// and comments: apply the local change synchronously, issue the network
// call, then overwrite local state with a reconciling read of server
// truth. The reconcile step runs even after a successful call because
// the local toggle tracks nothing the server may have changed
// concurrently.
//
// Mutations carry no sequencing token: two rapid toggles on the same
// entity race, and a slow reconciling fetch from the earlier toggle can
// overwrite the later optimistic state. Last reconciling fetch wins.
type Engine struct {
	cfg    OptimisticConfig
	logger *zap.Logger
}

// NewEngine creates a mutation engine. logger may be nil.
func NewEngine(cfg OptimisticConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Mutation describes one optimistic state change.
type Mutation struct {
	Name      string
	Apply     func()
	Rollback  func()
	Call      func(ctx context.Context) error
	Reconcile func(ctx context.Context) error
}

// Run executes the mutation. The returned error is the mutating call's
// error, wrapped; reconcile failures are transient and only logged.
func (e *Engine) Run(ctx context.Context, m Mutation) error {
	if m.Apply != nil {
		m.Apply()
	}

	if m.Call != nil {
		if err := m.Call(ctx); err != nil {
			if e.cfg.RollbackOnFailure && m.Rollback != nil {
				m.Rollback()
			} else {
				e.logger.Warn("mutation failed, keeping optimistic state",
					zap.String("mutation", m.Name), zap.Error(err))
			}
			return fmt.Errorf("%s: %w", m.Name, err)
		}
	}

	if m.Reconcile != nil {
		if err := m.Reconcile(ctx); err != nil {
			e.logger.Warn("reconcile failed",
				zap.String("mutation", m.Name), zap.Error(err))
		}
	}
	return nil
}

// ============================================================================
// Post cache
// ============================================================================

// PostCache is the local entity state the optimistic helpers mutate and
// the reconciling reads patch into.
type PostCache struct {
	mu    sync.RWMutex
	posts map[string]Post
}

func NewPostCache() *PostCache {
	return &PostCache{posts: make(map[string]Post)}
}

// Load replaces the cache with a fetched batch.
func (c *PostCache) Load(posts []Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = make(map[string]Post, len(posts))
	for _, p := range posts {
		c.posts[p.ID] = p
	}
}

// Get returns a post by id.
func (c *PostCache) Get(postID string) (Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[postID]
	return p, ok
}

// Patch overwrites a single post with the server's version.
func (c *PostCache) Patch(p Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts[p.ID] = p
}

// toggleLike flips userID's membership in the post's likes set.
func (c *PostCache) toggleLike(postID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return
	}
	for i, id := range p.Likes {
		if id == userID {
			p.Likes = append(append([]string(nil), p.Likes[:i]...), p.Likes[i+1:]...)
			c.posts[postID] = p
			return
		}
	}
	p.Likes = append(append([]string(nil), p.Likes...), userID)
	c.posts[postID] = p
}

func (c *PostCache) addComment(postID string, comment Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return
	}
	p.Comments = append(append([]Comment(nil), p.Comments...), comment)
	c.posts[postID] = p
}

func (c *PostCache) removeComment(postID, commentID string) (Comment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return Comment{}, false
	}
	for i, cm := range p.Comments {
		if cm.ID == commentID {
			p.Comments = append(append([]Comment(nil), p.Comments[:i]...), p.Comments[i+1:]...)
			c.posts[postID] = p
			return cm, true
		}
	}
	return Comment{}, false
}

// ============================================================================
// Post mutator
// ============================================================================

// PostMutator applies the optimistic pattern to post entities.
type PostMutator struct {
	engine  *Engine
	api     *PostsClient
	cache   *PostCache
	session Session
}

func NewPostMutator(engine *Engine, api *PostsClient, cache *PostCache, session *Session) *PostMutator {
	return &PostMutator{engine: engine, api: api, cache: cache, session: *session}
}

// Cache returns the mutator's post cache.
func (m *PostMutator) Cache() *PostCache { return m.cache }

// ToggleLike flips the local user's like on a post, issues the like
// call, then reconciles from the owner's post batch.
func (m *PostMutator) ToggleLike(ctx context.Context, postID, ownerID string) error {
	toggle := func() { m.cache.toggleLike(postID, m.session.UserID) }
	return m.engine.Run(ctx, Mutation{
		Name:     "like",
		Apply:    toggle,
		Rollback: toggle,
		Call: func(ctx context.Context) error {
			return m.api.Like(ctx, postID, m.session.UserID)
		},
		Reconcile: m.reconcilePost(postID, ownerID),
	})
}

// AddComment inserts a local placeholder comment, issues the comment
// call, then reconciles so the placeholder is replaced by server truth.
func (m *PostMutator) AddComment(ctx context.Context, postID, ownerID, text string) error {
	localID := "local-" + uuid.NewString()
	placeholder := Comment{
		ID:        localID,
		Text:      text,
		PostedBy:  CommentAuthor{ID: m.session.UserID, Username: m.session.Username},
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return m.engine.Run(ctx, Mutation{
		Name:     "add-comment",
		Apply:    func() { m.cache.addComment(postID, placeholder) },
		Rollback: func() { m.cache.removeComment(postID, localID) },
		Call: func(ctx context.Context) error {
			_, err := m.api.Comment(ctx, postID, m.session.UserID, text)
			return err
		},
		Reconcile: m.reconcilePost(postID, ownerID),
	})
}

// DeleteComment removes the comment locally, issues the delete, then
// reconciles. A delete without ownership fails with a payload-bearing
// error meant for display (see UserMessage).
func (m *PostMutator) DeleteComment(ctx context.Context, postID, ownerID, commentID string) error {
	var removed Comment
	var had bool
	return m.engine.Run(ctx, Mutation{
		Name: "delete-comment",
		Apply: func() {
			removed, had = m.cache.removeComment(postID, commentID)
		},
		Rollback: func() {
			if had {
				m.cache.addComment(postID, removed)
			}
		},
		Call: func(ctx context.Context) error {
			return m.api.DeleteComment(ctx, postID, commentID, m.session.UserID)
		},
		Reconcile: m.reconcilePost(postID, ownerID),
	})
}

// reconcilePost refetches the owning user's posts and patches in the one
// matching entity; the rest of the batch is left alone.
func (m *PostMutator) reconcilePost(postID, ownerID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		posts, err := m.api.ByUser(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range posts {
			if p.ID == postID {
				m.cache.Patch(p)
				return nil
			}
		}
		return nil // entity gone server-side; nothing to patch
	}
}

// ============================================================================
// Follow mutator
// ============================================================================

// FollowMutator applies the optimistic pattern to follow edges on a
// profile's followers set.
type FollowMutator struct {
	engine  *Engine
	api     *UsersClient
	session Session

	mu      sync.RWMutex
	profile User
}

func NewFollowMutator(engine *Engine, api *UsersClient, session *Session, profile User) *FollowMutator {
	return &FollowMutator{engine: engine, api: api, session: *session, profile: profile}
}

// Profile returns the current local profile state.
func (m *FollowMutator) Profile() User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Following reports whether the local user is in the profile's
// followers set.
func (m *FollowMutator) Following() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.profile.Followers {
		if id == m.session.UserID {
			return true
		}
	}
	return false
}

// ToggleFollow flips the local user's membership in the followers set,
// issues the follow call, then reconciles from the profile endpoint.
func (m *FollowMutator) ToggleFollow(ctx context.Context) error {
	toggle := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, id := range m.profile.Followers {
			if id == m.session.UserID {
				m.profile.Followers = append(
					append([]string(nil), m.profile.Followers[:i]...),
					m.profile.Followers[i+1:]...)
				return
			}
		}
		m.profile.Followers = append(
			append([]string(nil), m.profile.Followers...), m.session.UserID)
	}

	profileID := m.Profile().ID
	return m.engine.Run(ctx, Mutation{
		Name:     "follow",
		Apply:    toggle,
		Rollback: toggle,
		Call: func(ctx context.Context) error {
			return m.api.Follow(ctx, profileID)
		},
		Reconcile: func(ctx context.Context) error {
			fresh, err := m.api.Get(ctx, profileID)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.profile = *fresh
			m.mu.Unlock()
			return nil
		},
	})
}
