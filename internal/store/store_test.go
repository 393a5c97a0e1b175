package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeline/chatsync/internal/api"
)

func chat(id string, unread int, updated time.Time) api.Chat {
	return api.Chat{ID: id, UnreadCount: unread, UpdatedAt: updated}
}

func TestList_OrderAndTieBreak(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReplaceAll([]api.Chat{
		chat("c3", 0, base),                    // same activity as c1
		chat("c1", 0, base),                    // tie broken by id ascending
		chat("c2", 0, base.Add(1*time.Minute)), // most recent, first
	}, "")

	got := s.List()
	require.Len(t, got, 3)
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
	assert.Equal(t, "c3", got[2].ID)
}

func TestList_LatestMessageBumpsActivity(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReplaceAll([]api.Chat{
		chat("c1", 0, base.Add(time.Hour)),
		chat("c2", 0, base),
	}, "")

	// a fresh message in c2 moves it ahead of c1
	s.SetLatestMessage("c2", &api.Message{ID: "m1", CreatedAt: base.Add(2 * time.Hour)})

	got := s.List()
	assert.Equal(t, "c2", got[0].ID)

	c2, ok := s.Get("c2")
	require.True(t, ok)
	require.NotNil(t, c2.LatestMessage)
	assert.Equal(t, "m1", c2.LatestMessage.ID)
}

func TestReplaceAll_ServerAuthoritativeMembership(t *testing.T) {
	s := NewConversationStore()
	s.ReplaceAll([]api.Chat{chat("c1", 0, time.Time{}), chat("c2", 0, time.Time{})}, "")
	s.IncrementUnread("c2")

	// server fetch omits c2: it is removed even though it has unread state
	s.ReplaceAll([]api.Chat{chat("c1", 0, time.Time{})}, "")

	_, ok := s.Get("c2")
	assert.False(t, ok)
}

func TestReplaceAll_OpenConversationStaysRead(t *testing.T) {
	s := NewConversationStore()

	// server still reports unread for c1, but c1 is open locally
	s.ReplaceAll([]api.Chat{chat("c1", 4, time.Time{}), chat("c2", 2, time.Time{})}, "c1")

	assert.Equal(t, 0, s.Unread("c1"))
	assert.Equal(t, 2, s.Unread("c2"))
	assert.Equal(t, 2, s.TotalUnread())
}

func TestUpsertSummary_MergesWithoutClearingUnread(t *testing.T) {
	s := NewConversationStore()
	s.ReplaceAll([]api.Chat{chat("c1", 0, time.Time{})}, "")
	s.IncrementUnread("c1")
	s.IncrementUnread("c1")

	// a summary with a stale zero count must not clear local unread state
	s.UpsertSummary(api.Chat{ID: "c1", LatestMessage: &api.Message{ID: "m5"}})
	assert.Equal(t, 2, s.Unread("c1"))

	c1, _ := s.Get("c1")
	require.NotNil(t, c1.LatestMessage)
	assert.Equal(t, "m5", c1.LatestMessage.ID)

	// unknown conversations are inserted
	s.UpsertSummary(chat("c9", 1, time.Time{}))
	assert.Equal(t, 1, s.Unread("c9"))
}

func TestMarkReadAndIncrement(t *testing.T) {
	s := NewConversationStore()
	s.ReplaceAll([]api.Chat{chat("c1", 0, time.Time{})}, "")

	s.IncrementUnread("c1")
	s.IncrementUnread("c1")
	assert.Equal(t, 2, s.Unread("c1"))

	s.MarkRead("c1")
	assert.Equal(t, 0, s.Unread("c1"))

	// unknown ids are ignored
	s.IncrementUnread("ghost")
	s.MarkRead("ghost")
	assert.Equal(t, 0, s.Unread("ghost"))
}
