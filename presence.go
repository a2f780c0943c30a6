package buzzsway

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker maintains the set of currently-online peer usernames.
// The set is authoritative-server-driven: each online-users event carries
// the full roster and replaces local state wholesale; there is no
// timeout-based offline inference. The local user is always excluded,
// even when the server includes them in the payload.
type PresenceTracker struct {
	channel *Channel
	logger  *zap.Logger

	mu      sync.RWMutex
	self    string
	online  map[string]struct{}
	detach  func()
	subs    map[int]func(online []string)
	nextSub int
}

// NewPresenceTracker creates a tracker attached to nothing. Call Start
// with the session to begin receiving roster snapshots.
func NewPresenceTracker(channel *Channel, logger *zap.Logger) *PresenceTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceTracker{
		channel: channel,
		logger:  logger,
		online:  make(map[string]struct{}),
		subs:    make(map[int]func([]string)),
	}
}

// Start subscribes to the channel's roster event. Calling Start again
// replaces the previous subscription, so a restart never doubles up
// handling.
func (t *PresenceTracker) Start(session *Session) {
	t.mu.Lock()
	if t.detach != nil {
		t.detach()
		t.detach = nil
	}
	if session != nil {
		t.self = session.Username
	} else {
		t.self = ""
	}
	t.online = make(map[string]struct{})
	t.detach = t.channel.On(EventOnlineUsers, t.handleRoster)
	t.mu.Unlock()
}

// Stop detaches from the channel and clears the set.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	if t.detach != nil {
		t.detach()
		t.detach = nil
	}
	t.online = make(map[string]struct{})
	t.mu.Unlock()
}

// IsOnline reports whether the given username is in the latest roster.
func (t *PresenceTracker) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[username]
	return ok
}

// Online returns the current roster, sorted.
func (t *PresenceTracker) Online() []string {
	t.mu.RLock()
	names := maps.Keys(t.online)
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Subscribe registers an observer invoked with the sorted roster after
// every snapshot. It returns a cancel func.
func (t *PresenceTracker) Subscribe(fn func(online []string)) func() {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// handleRoster applies a full-roster snapshot: last snapshot wins.
func (t *PresenceTracker) handleRoster(_ string, payload json.RawMessage) {
	var usernames []string
	if err := json.Unmarshal(payload, &usernames); err != nil {
		t.logger.Debug("malformed roster payload", zap.Error(err))
		return
	}

	t.mu.Lock()
	replacement := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		if u == t.self || u == "" {
			continue
		}
		replacement[u] = struct{}{}
	}
	t.online = replacement

	subs := make([]func([]string), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	names := maps.Keys(replacement)
	t.mu.Unlock()

	sort.Strings(names)
	for _, fn := range subs {
		func() {
			defer func() { _ = recover() }()
			fn(names)
		}()
	}
}
