package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/tradeline/chatsync/internal/api"
	"github.com/tradeline/chatsync/internal/logger"
	"github.com/tradeline/chatsync/internal/store"
)

// ReadMarker issues the mark-read call for a conversation.
type ReadMarker interface {
	MarkChatRead(ctx context.Context, userID, chatID string) error
}

// ReadReceipter commits read receipts optimistically: local unread state is
// zeroed immediately and the REST call runs in the background. Read state is
// not safety-critical, so a failed call is only logged; rolling the counter
// back would just flicker the badge, and the next list refresh reconciles
// with the server anyway.
type ReadReceipter struct {
	API    ReadMarker
	Store  *store.ConversationStore
	UserID string

	// done, when set, is signalled after each background call completes.
	// Tests use it to observe the REST outcome.
	done chan error
}

// Commit zeroes the conversation's unread count and fires the mark-read
// call. It never blocks on the network and never fails.
func (r *ReadReceipter) Commit(ctx context.Context, chatID string) {
	r.Store.MarkRead(chatID)

	go func() {
		err := r.API.MarkChatRead(ctx, r.UserID, chatID)
		if err != nil {
			logger.Log.Warn("read receipt failed",
				zap.String("chat", chatID), zap.Error(err))
		}
		if r.done != nil {
			r.done <- err
		}
	}()
}

var _ ReadMarker = (*api.Client)(nil)
