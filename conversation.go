package buzzsway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// ConversationStore
// ============================================================================

// ConversationStore holds the ordered message list for one open
// conversation between the local user and a single peer. It merges
// history fetched from the backend with live pushes from the channel.
//
// Only the open conversation is cached: live pushes whose participant
// pair does not match {local user, peer} are silently dropped, so
// messages for unopened conversations are not retained. This mirrors the
// view-scoped design the store was built for.
type ConversationStore struct {
	session Session
	peer    string
	channel *Channel
	api     *MessagesClient
	logger  *zap.Logger

	mu       sync.Mutex
	active   bool
	detach   func()
	messages []Message
	seen     map[string]struct{}
	subs     map[int]func(Message)
	nextSub  int
}

// NewConversationStore creates a store for the conversation between the
// session's user and peer. Call Start to attach to the channel.
func NewConversationStore(session *Session, peer string, channel *Channel, api *MessagesClient, logger *zap.Logger) *ConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationStore{
		session: *session,
		peer:    peer,
		channel: channel,
		api:     api,
		logger:  logger,
		seen:    make(map[string]struct{}),
		subs:    make(map[int]func(Message)),
	}
}

// Start attaches the live-push listener. Restarting replaces the
// previous listener so reconnects never duplicate handling.
func (s *ConversationStore) Start() {
	s.mu.Lock()
	if s.detach != nil {
		s.detach()
	}
	s.active = true
	s.detach = s.channel.On(EventReceivePrivateMsg, s.handlePush)
	s.mu.Unlock()
}

// Stop detaches from the channel. Pushes arriving after Stop are
// no-ops, which guards against stale writes into a closed view.
func (s *ConversationStore) Stop() {
	s.mu.Lock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	s.active = false
	s.mu.Unlock()
}

// LoadHistory fetches the persisted history for this conversation and
// replaces any in-memory state. Display order is history order followed
// by subsequent live arrival order.
func (s *ConversationStore) LoadHistory(ctx context.Context) ([]Message, error) {
	history, err := s.api.History(ctx, s.session.Username, s.peer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.messages = make([]Message, 0, len(history))
	s.seen = make(map[string]struct{}, len(history))
	for _, m := range history {
		key := m.dedupKey()
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.messages = append(s.messages, m)
	}
	out := append([]Message(nil), s.messages...)
	s.mu.Unlock()
	return out, nil
}

// AppendLive offers a live push to the store. The message is accepted
// only while the store is active and the (sender, receiver) pair equals
// the conversation's participant pair; everything else is dropped. A
// missing CreatedAt is stamped with the receipt time. Accepted messages
// go to the end of the list — no re-sort by timestamp.
func (s *ConversationStore) AppendLive(msg Message) bool {
	if !msg.between(s.session.Username, s.peer) {
		return false
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	key := msg.dedupKey()
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[key] = struct{}{}
	s.messages = append(s.messages, msg)

	subs := make([]func(Message), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() { _ = recover() }()
			fn(msg)
		}()
	}
	return true
}

// Send emits the message over the channel with CreatedAt set to the
// local send time. It does NOT append locally: the server echoes the
// message back to the sender over the same channel, and AppendLive picks
// it up then. The message therefore appears only after round-trip
// latency, but never twice.
func (s *ConversationStore) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	msg := Message{
		Sender:    s.session.Username,
		Receiver:  s.peer,
		Content:   content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return s.channel.SendPrivateMessage(ctx, msg)
}

// Messages returns a copy of the current ordered message list.
func (s *ConversationStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Peer returns the conversation's peer username.
func (s *ConversationStore) Peer() string {
	return s.peer
}

// Subscribe registers an observer invoked for every accepted live
// message. It returns a cancel func.
func (s *ConversationStore) Subscribe(fn func(Message)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *ConversationStore) handlePush(_ string, payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Debug("malformed message payload", zap.Error(err))
		return
	}
	s.AppendLive(msg)
}
