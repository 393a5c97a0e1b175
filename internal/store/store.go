// Package store holds the client-side conversation state shared between the
// list view and the open conversation view.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tradeline/chatsync/internal/api"
)

// ConversationStore is the authoritative local copy of the conversation
// list. All mutations take the store lock so updates to a conversation are
// applied atomically; no caller ever observes a partial update.
type ConversationStore struct {
	mu    sync.Mutex
	chats map[string]*api.Chat
}

// NewConversationStore returns an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{chats: make(map[string]*api.Chat)}
}

// List returns conversations ordered most-recent-activity first. Ties are
// broken by id ascending so the order is deterministic.
func (s *ConversationStore) List() []api.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := activityTime(&out[i]), activityTime(&out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of the conversation, if known.
func (s *ConversationStore) Get(id string) (api.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return api.Chat{}, false
	}
	return *c, true
}

// ReplaceAll applies a fresh server list fetch. The server is authoritative
// for membership and unread counts: conversations absent from the fetch are
// dropped even if they hold local unread state, and server counts overwrite
// the optimistic local ones. openID (optional) names the currently open
// conversation, which stays at zero unread regardless of what the server
// still reports.
func (s *ConversationStore) ReplaceAll(chats []api.Chat, openID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*api.Chat, len(chats))
	for i := range chats {
		c := chats[i]
		if c.ID == openID {
			c.UnreadCount = 0
		}
		next[c.ID] = &c
	}
	s.chats = next
}

// UpsertSummary merges a single conversation summary into the store. A zero
// unread count on the incoming summary does not clear a locally tracked one;
// only ReplaceAll and MarkRead may lower unread state.
func (s *ConversationStore) UpsertSummary(chat api.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.chats[chat.ID]
	if !ok {
		c := chat
		s.chats[chat.ID] = &c
		return
	}

	if len(chat.Participants) > 0 {
		existing.Participants = chat.Participants
	}
	if chat.LatestMessage != nil {
		existing.LatestMessage = chat.LatestMessage
	}
	if !chat.UpdatedAt.IsZero() {
		existing.UpdatedAt = chat.UpdatedAt
	}
	if chat.UnreadCount > existing.UnreadCount {
		existing.UnreadCount = chat.UnreadCount
	}
}

// SetLatestMessage records msg as the most recently arrived message for the
// conversation, bumping its activity time.
func (s *ConversationStore) SetLatestMessage(chatID string, msg *api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return
	}
	c.LatestMessage = msg
	if msg != nil && msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
}

// IncrementUnread adds one unread message to the conversation.
func (s *ConversationStore) IncrementUnread(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chats[chatID]; ok {
		c.UnreadCount++
	}
}

// MarkRead atomically zeroes the conversation's unread count.
func (s *ConversationStore) MarkRead(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chats[chatID]; ok {
		c.UnreadCount = 0
	}
}

// Unread returns the current unread count for the conversation.
func (s *ConversationStore) Unread(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chats[chatID]; ok {
		return c.UnreadCount
	}
	return 0
}

// TotalUnread sums unread counts across all conversations, for badge-style
// displays.
func (s *ConversationStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, c := range s.chats {
		total += c.UnreadCount
	}
	return total
}

func activityTime(c *api.Chat) time.Time {
	t := c.UpdatedAt
	if c.LatestMessage != nil && c.LatestMessage.CreatedAt.After(t) {
		t = c.LatestMessage.CreatedAt
	}
	return t
}
