package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeline/chatsync/internal/api"
)

// fakeSupportAPI is an in-memory SupportAPI with failure injection.
type fakeSupportAPI struct {
	mu sync.Mutex

	thread    api.SupportThread
	threadErr error
	sendErr   error

	sent          []string
	markReadCalls int
}

func (f *fakeSupportAPI) GetSupportThread(ctx context.Context) (*api.SupportThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	t := f.thread
	t.Messages = append([]api.Message(nil), f.thread.Messages...)
	return &t, nil
}

func (f *fakeSupportAPI) MarkSupportRead(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return nil
}

func (f *fakeSupportAPI) SendSupportMessage(ctx context.Context, content string, image *api.Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func newTestSupport(t *testing.T) (*SupportSession, *fakeSupportAPI, *fakeChannel) {
	t.Helper()
	a := &fakeSupportAPI{}
	ch := newFakeChannel()
	s := NewSupportSession(a, ch, "u1")
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		state, _ := s.State()
		return state == StateReady
	}, 2*time.Second, 5*time.Millisecond, "support thread never loaded")
	return s, a, ch
}

func TestSupport_RegistersUserOnConnect(t *testing.T) {
	s, _, ch := newTestSupport(t)
	defer s.Close()

	ch.mu.Lock()
	onConnect := ch.onConnect
	ch.mu.Unlock()
	require.NotNil(t, onConnect)
	onConnect()

	regs := ch.emitted("registerSupportUser")
	require.NotEmpty(t, regs)
	assert.Equal(t, "u1", regs[0].payload)
}

func TestSupport_AppendsOwnAndAdminMessages(t *testing.T) {
	s, _, ch := newTestSupport(t)
	defer s.Close()

	// own message comes back over the socket (the POST response carries
	// nothing), so self-echo is appended here, not suppressed
	ch.inject(t, "newMessage", `{"_id":"s1","sender":"u1","receiver":"admin","content":"help"}`)
	ch.inject(t, "newMessage", `{"_id":"s2","sender":{"_id":"admin"},"receiver":"u1","content":"hello"}`)

	// repeated delivery must not duplicate
	ch.inject(t, "newMessage", `{"_id":"s1","sender":"u1","receiver":"admin","content":"help"}`)

	// chatter between other users on the shared namespace is not ours
	ch.inject(t, "newMessage", `{"_id":"s3","sender":"u7","receiver":"admin","content":"other"}`)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "s1", msgs[0].ID)
	assert.Equal(t, "s2", msgs[1].ID)
}

func TestSupport_TicketStatusBlocksSend(t *testing.T) {
	s, a, ch := newTestSupport(t)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "first", nil))

	ch.inject(t, "ticketStatusChanged", `{"closed":true}`)
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Send(context.Background(), "second", nil), ErrTicketClosed)

	// admin reopens the ticket
	ch.inject(t, "ticketStatusChanged", `{"closed":false}`)
	require.NoError(t, s.Send(context.Background(), "third", nil))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []string{"first", "third"}, a.sent)
}

func TestSupport_SendValidation(t *testing.T) {
	s, a, _ := newTestSupport(t)
	defer s.Close()

	assert.ErrorIs(t, s.Send(context.Background(), "  ", nil), ErrValidation)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.sent)
}

func TestSupport_InitialLoadAndMarkRead(t *testing.T) {
	a := &fakeSupportAPI{thread: api.SupportThread{
		IsClosed: true,
		Messages: []api.Message{{ID: "s1", Content: "earlier"}},
	}}
	ch := newFakeChannel()
	s := NewSupportSession(a, ch, "u1")
	s.Start(context.Background())
	defer s.Close()

	require.Eventually(t, func() bool {
		state, _ := s.State()
		return state == StateReady
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, s.Closed())
	require.Len(t, s.Messages(), 1)

	assert.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.markReadCalls == 1
	}, 2*time.Second, 5*time.Millisecond, "mark-read never issued")
}

func TestSupport_RefreshLastWinsOnFailure(t *testing.T) {
	s, a, _ := newTestSupport(t)
	defer s.Close()

	a.mu.Lock()
	a.threadErr = errors.New("boom")
	a.mu.Unlock()

	s.Refresh(context.Background())
	require.Eventually(t, func() bool {
		state, _ := s.State()
		return state == StateError
	}, 2*time.Second, 5*time.Millisecond)

	// a later successful refresh supersedes the error
	a.mu.Lock()
	a.threadErr = nil
	a.thread.Messages = []api.Message{{ID: "s1"}}
	a.mu.Unlock()

	s.Refresh(context.Background())
	require.Eventually(t, func() bool {
		state, _ := s.State()
		return state == StateReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Messages(), 1)
}
