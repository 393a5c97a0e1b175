// Package syncer reconciles REST-fetched conversation state with push
// events: it dedupes messages, tracks unread counts, and drives read
// receipts for whichever conversation is currently open.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tradeline/chatsync/internal/api"
	"github.com/tradeline/chatsync/internal/logger"
	"github.com/tradeline/chatsync/internal/store"
	"github.com/tradeline/chatsync/internal/throttle"
)

// ErrValidation is returned for sends with neither text nor an image; such
// messages never reach the network.
var ErrValidation = errors.New("message needs text or an image")

// ErrNoRecipient is returned when the open conversation has no peer to
// address the message to.
var ErrNoRecipient = errors.New("conversation has no recipient")

// ChatAPI is the slice of the REST client the synchronizer depends on.
type ChatAPI interface {
	ListChats(ctx context.Context, userID string) ([]api.Chat, error)
	CreateChat(ctx context.Context, receiverID string) (*api.Chat, error)
	GetChatInfo(ctx context.Context, chatID string) (*api.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]api.Message, error)
	MarkChatRead(ctx context.Context, userID, chatID string) error
	SendChatMessage(ctx context.Context, chatID, content string, image *api.Upload) (*api.Message, error)
}

// Channel is the slice of the push channel the synchronizer depends on.
type Channel interface {
	Subscribe(event string, h func(data json.RawMessage))
	Unsubscribe(event string)
	Emit(event string, payload interface{})
	OnConnect(fn func())
	Close()
}

// RoomState is the lifecycle of the open conversation's message list.
type RoomState int

const (
	// StateIdle means no conversation is open.
	StateIdle RoomState = iota
	// StateLoading means the open conversation's history fetch is in flight.
	StateLoading
	// StateReady means the message list is loaded and live-updating.
	StateReady
	// StateError means the history fetch failed; re-opening retries it.
	StateError
)

// Syncer keeps one conversation scope in sync. With no conversation opened
// it still maintains the conversation list and unread counters, which is all
// the list view needs; opening a conversation adds the message-list state
// machine on top.
type Syncer struct {
	api     ChatAPI
	ch      Channel
	store   *store.ConversationStore
	local   string // local user id, for self-echo suppression
	refresh *throttle.Store
	rr      *ReadReceipter

	mu        sync.Mutex
	openID    string
	state     RoomState
	gen       uint64 // bumped on every selection; stale fetch results are dropped
	messages  []api.Message
	loadErr   error
	onMessage func(api.Message)
}

// Options configures a Syncer.
type Options struct {
	API         ChatAPI
	Channel     Channel
	Store       *store.ConversationStore
	LocalUserID string
	// RefreshPerMinute caps event-triggered list refreshes; zero uses a
	// sensible default.
	RefreshPerMinute int
}

// New wires a Syncer. Call Start to begin consuming events.
func New(opts Options) *Syncer {
	perMin := opts.RefreshPerMinute
	if perMin <= 0 {
		perMin = 30
	}
	s := &Syncer{
		api:     opts.API,
		ch:      opts.Channel,
		store:   opts.Store,
		local:   opts.LocalUserID,
		refresh: throttle.PerMinute(perMin, 3),
	}
	s.rr = &ReadReceipter{API: opts.API, Store: opts.Store, UserID: opts.LocalUserID}
	return s
}

// SetOnMessage registers a callback invoked for every message appended to
// the open conversation, so a view can render arrivals without polling.
func (s *Syncer) SetOnMessage(fn func(api.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Start subscribes to push events and performs the initial list fetch.
func (s *Syncer) Start(ctx context.Context) error {
	s.ch.Subscribe("newMessage", func(data json.RawMessage) {
		s.handleNewMessage(ctx, data)
	})
	// After every (re)connect the server must be told which room we are in,
	// otherwise it has no delivery target for this client.
	s.ch.OnConnect(func() {
		if id := s.OpenID(); id != "" {
			s.ch.Emit("joinRoom", id)
		}
	})
	return s.RefreshList(ctx)
}

// Close releases the event subscription and the channel.
func (s *Syncer) Close() {
	s.ch.Unsubscribe("newMessage")
	s.ch.Close()
}

// RefreshList pulls the conversation list from the server. The fetch is
// authoritative for membership and unread counts, except that the currently
// open conversation always stays read.
func (s *Syncer) RefreshList(ctx context.Context) error {
	chats, err := s.api.ListChats(ctx, s.local)
	if err != nil {
		return err
	}
	s.store.ReplaceAll(chats, s.OpenID())
	return nil
}

// Open selects a conversation: the previous selection is abandoned (a fetch
// still in flight for it will be discarded), the room enters the loading
// state, and history is fetched in the background. Opening also joins the
// delivery room and optimistically marks the conversation read.
func (s *Syncer) Open(ctx context.Context, chatID string) {
	gen := s.beginOpen(chatID)

	s.ch.Emit("joinRoom", chatID)
	s.rr.Commit(ctx, chatID)

	go func() {
		msgs, err := s.api.ListMessages(ctx, chatID)
		s.finishOpen(gen, msgs, err)
	}()
}

// beginOpen records the new selection and bumps the generation counter so
// any older in-flight fetch becomes stale.
func (s *Syncer) beginOpen(chatID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openID = chatID
	s.state = StateLoading
	s.messages = nil
	s.loadErr = nil
	s.gen++
	return s.gen
}

// finishOpen applies a history fetch result. Results for a superseded
// generation are dropped silently: last selection wins.
func (s *Syncer) finishOpen(gen uint64, msgs []api.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		logger.Log.Debug("syncer: dropping stale history fetch", zap.Uint64("gen", gen))
		return
	}

	if err != nil {
		// No partial list is ever shown; re-opening the conversation retries.
		s.state = StateError
		s.loadErr = err
		s.messages = nil
		logger.Log.Warn("syncer: history fetch failed", zap.String("chat", s.openID), zap.Error(err))
		return
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})

	s.state = StateReady
	s.messages = msgs
	s.loadErr = nil
}

// CloseConversation leaves the open conversation and discards its messages.
func (s *Syncer) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openID = ""
	s.state = StateIdle
	s.messages = nil
	s.loadErr = nil
	s.gen++
}

// OpenID returns the id of the open conversation, or "".
func (s *Syncer) OpenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// State returns the room state and, in StateError, the fetch error.
func (s *Syncer) State() (RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.loadErr
}

// Messages returns a copy of the open conversation's message list.
func (s *Syncer) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// handleNewMessage applies the inbound-event policy.
func (s *Syncer) handleNewMessage(ctx context.Context, data json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Log.Warn("syncer: malformed newMessage payload", zap.Error(err))
		return
	}

	// Self-echo: the REST response to our own send is authoritative, the
	// socket copy only confirms delivery.
	if msg.Sender.ID == s.local {
		return
	}

	// ChatRef already normalized the bare-id vs nested-object forms.
	chatID := string(msg.Chat)
	if chatID == "" {
		return
	}

	if s.appendIfOpen(chatID, &msg) {
		// The user is looking at this conversation right now, so it is read
		// the moment the message lands.
		s.rr.Commit(ctx, chatID)
		return
	}

	// A conversation the store has never seen cannot take an unread
	// increment; only a list fetch can materialize it, so this bypasses the
	// refresh throttle.
	if _, known := s.store.Get(chatID); !known {
		go func() {
			if err := s.RefreshList(ctx); err != nil {
				logger.Log.Warn("syncer: list refresh for new conversation failed", zap.Error(err))
			}
		}()
		return
	}

	s.store.IncrementUnread(chatID)
	s.store.SetLatestMessage(chatID, &msg)

	// A background list refresh keeps latestMessage and ordering in line
	// with the server, but a burst of messages must not turn into a burst
	// of fetches.
	if s.refresh.Allow("chats") {
		go func() {
			if err := s.RefreshList(ctx); err != nil {
				logger.Log.Warn("syncer: background list refresh failed", zap.Error(err))
			}
		}()
	}
}

// appendIfOpen appends the message to the open conversation's list when it
// targets it, deduplicating by id. It reports whether the message was
// consumed by the open conversation (including the duplicate case).
func (s *Syncer) appendIfOpen(chatID string, msg *api.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chatID != s.openID {
		return false
	}

	// While the history fetch is in flight the server already has this
	// message; the fetch result will contain it, so appending now would
	// only create a duplicate.
	if s.state != StateReady {
		return true
	}

	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			return true
		}
	}
	s.messages = append(s.messages, *msg)
	s.store.SetLatestMessage(chatID, msg)
	if s.onMessage != nil {
		go s.onMessage(*msg)
	}
	return true
}

// Send validates and posts a message to the open conversation, appends the
// created message locally, and announces it over the socket so the peer's
// client can pick it up without polling.
func (s *Syncer) Send(ctx context.Context, content string, image *api.Upload) (*api.Message, error) {
	if strings.TrimSpace(content) == "" && image == nil {
		return nil, ErrValidation
	}

	chatID := s.OpenID()
	if chatID == "" {
		return nil, ErrNoRecipient
	}
	chat, ok := s.store.Get(chatID)
	if !ok {
		return nil, ErrNoRecipient
	}
	peer, ok := chat.Peer(s.local)
	if !ok {
		return nil, ErrNoRecipient
	}

	msg, err := s.api.SendChatMessage(ctx, chatID, content, image)
	if err != nil {
		return nil, err
	}

	s.appendOwn(chatID, msg)

	s.ch.Emit("sendMessage", outboundMessage{Message: *msg, ReceiverID: peer.ID})
	return msg, nil
}

// outboundMessage is the sendMessage payload: the created message plus the
// delivery target.
type outboundMessage struct {
	api.Message
	ReceiverID string `json:"receiverId"`
}

// appendOwn inserts our own just-sent message, ignoring it if the selection
// changed while the POST was in flight.
func (s *Syncer) appendOwn(chatID string, msg *api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chatID != s.openID || s.state != StateReady {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			return
		}
	}
	s.messages = append(s.messages, *msg)
	s.store.SetLatestMessage(chatID, msg)
}

// StartConversation creates (or finds) the conversation with the given user,
// refreshes the list, and opens it. This is the profile-page "Message"
// action.
func (s *Syncer) StartConversation(ctx context.Context, receiverID string) (*api.Chat, error) {
	created, err := s.api.CreateChat(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	detail, err := s.api.GetChatInfo(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	s.store.UpsertSummary(*detail)

	if err := s.RefreshList(ctx); err != nil {
		// Not fatal: the conversation itself is usable, the list will catch
		// up on the next refresh.
		logger.Log.Warn("syncer: list refresh after chat create failed", zap.Error(err))
	}

	s.Open(ctx, detail.ID)
	return detail, nil
}
