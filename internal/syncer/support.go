package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tradeline/chatsync/internal/api"
	"github.com/tradeline/chatsync/internal/logger"
)

// ErrTicketClosed is returned when sending into a support ticket an admin
// has closed.
var ErrTicketClosed = errors.New("support ticket is closed")

// SupportAPI is the slice of the REST client the support session depends on.
type SupportAPI interface {
	GetSupportThread(ctx context.Context) (*api.SupportThread, error)
	MarkSupportRead(ctx context.Context, userID string) error
	SendSupportMessage(ctx context.Context, content string, image *api.Upload) error
}

// SupportSession synchronizes the user's support ticket. It differs from a
// direct conversation in three ways: the client registers itself by user id
// instead of joining a room, the admin may close the ticket (blocking further
// sends), and our own messages are delivered back over the socket rather than
// in the POST response, so self-echo is appended here instead of suppressed.
type SupportSession struct {
	api   SupportAPI
	ch    Channel
	local string

	mu       sync.Mutex
	state    RoomState
	gen      uint64
	messages []api.Message
	closed   bool
	loadErr  error
}

// NewSupportSession wires a session over the support-scoped channel.
func NewSupportSession(supportAPI SupportAPI, ch Channel, localUserID string) *SupportSession {
	return &SupportSession{api: supportAPI, ch: ch, local: localUserID}
}

// Start registers the user with the support namespace, subscribes to events,
// loads the ticket history, and marks it read.
func (s *SupportSession) Start(ctx context.Context) {
	s.ch.OnConnect(func() {
		s.ch.Emit("registerSupportUser", s.local)
	})
	s.ch.Subscribe("newMessage", s.handleMessage)
	s.ch.Subscribe("ticketStatusChanged", s.handleTicketStatus)

	s.Refresh(ctx)
	s.MarkRead(ctx)
}

// Close releases the subscriptions and the channel.
func (s *SupportSession) Close() {
	s.ch.Unsubscribe("newMessage")
	s.ch.Unsubscribe("ticketStatusChanged")
	s.ch.Close()
}

// Refresh reloads the ticket history. Like conversation opens, a refresh
// started later always wins over one still in flight.
func (s *SupportSession) Refresh(ctx context.Context) {
	s.mu.Lock()
	s.state = StateLoading
	s.loadErr = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		thread, err := s.api.GetSupportThread(ctx)
		s.finishRefresh(gen, thread, err)
	}()
}

func (s *SupportSession) finishRefresh(gen uint64, thread *api.SupportThread, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	if err != nil {
		s.state = StateError
		s.loadErr = err
		logger.Log.Warn("support: ticket fetch failed", zap.Error(err))
		return
	}

	s.state = StateReady
	s.messages = thread.Messages
	s.closed = thread.IsClosed
}

// MarkRead marks the support thread read. Optimistic like chat read
// receipts: failures are logged, never retried in a loop.
func (s *SupportSession) MarkRead(ctx context.Context) {
	go func() {
		if err := s.api.MarkSupportRead(ctx, s.local); err != nil {
			logger.Log.Warn("support: mark-read failed", zap.Error(err))
		}
	}()
}

// handleMessage appends relevant messages, deduplicating by id. Both our own
// messages and the admin's arrive through here.
func (s *SupportSession) handleMessage(data json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Log.Warn("support: malformed newMessage payload", zap.Error(err))
		return
	}

	// The support socket is shared with the admin side; only messages that
	// involve this user belong in the thread.
	if msg.Sender.ID != s.local && msg.Receiver.ID != s.local {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			return
		}
	}
	s.messages = append(s.messages, msg)
}

// handleTicketStatus tracks the admin opening or closing the ticket.
func (s *SupportSession) handleTicketStatus(data json.RawMessage) {
	var status struct {
		Closed bool `json:"closed"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		logger.Log.Warn("support: malformed ticketStatusChanged payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.closed = status.Closed
	s.mu.Unlock()
}

// Send validates and posts a message to the ticket. The created message is
// not appended here; it arrives over the socket and is appended (once) by
// handleMessage.
func (s *SupportSession) Send(ctx context.Context, content string, image *api.Upload) error {
	if strings.TrimSpace(content) == "" && image == nil {
		return ErrValidation
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrTicketClosed
	}

	return s.api.SendSupportMessage(ctx, content, image)
}

// Messages returns a copy of the ticket's message list.
func (s *SupportSession) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Closed reports whether the admin has closed the ticket.
func (s *SupportSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// State returns the load state and, in StateError, the fetch error.
func (s *SupportSession) State() (RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.loadErr
}
