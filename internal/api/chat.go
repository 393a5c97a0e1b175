package api

import "context"

// ListChats returns the given user's conversation list.
func (c *Client) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	var chats []Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&chats).
		Get("/chat/" + userID)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateChat creates (or returns the existing) conversation with the given
// user and returns its summary.
func (c *Client) CreateChat(ctx context.Context, receiverID string) (*Chat, error) {
	var chat Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"receiverId": receiverID}).
		SetResult(&chat).
		Post("/chat")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatInfo fetches a single conversation's detail.
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&chat).
		Get("/chat/chat-info/" + chatID)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListMessages fetches the message history for a conversation.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&msgs).
		Get("/chat/messages/" + chatID)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkChatRead marks every message in the conversation as read by the user.
func (c *Client) MarkChatRead(ctx context.Context, userID, chatID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chatId": chatID}).
		Put("/chat/read/" + userID)
	return check(resp, err)
}

// SendChatMessage posts a new message (text and/or image) to a conversation
// and returns the created message.
func (c *Client) SendChatMessage(ctx context.Context, chatID, content string, image *Upload) (*Message, error) {
	var msg Message
	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"chatId":  chatID,
			"content": content,
		}).
		SetResult(&msg)
	if image != nil {
		req.SetMultipartField("image", image.FileName, "application/octet-stream", image.Reader)
	}

	resp, err := req.Post("/chat/message")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &msg, nil
}
