package api

import (
	"context"
	"encoding/json"
)

// GetSupportThread fetches the user's support ticket history and state.
func (c *Client) GetSupportThread(ctx context.Context) (*SupportThread, error) {
	var thread SupportThread
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&thread).
		Get("/support/user")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &thread, nil
}

// MarkSupportRead marks the user's support messages as read. The backend
// expects an explicit null chatWith for the user-facing channel.
func (c *Client) MarkSupportRead(ctx context.Context, userID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]json.RawMessage{"chatWith": json.RawMessage("null")}).
		Put("/support/mark-read/" + userID)
	return check(resp, err)
}

// SendSupportMessage posts a message to the support ticket. Unlike direct
// chats the created message is not returned; it comes back over the socket.
func (c *Client) SendSupportMessage(ctx context.Context, content string, image *Upload) error {
	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"content": content})
	if image != nil {
		req.SetMultipartField("image", image.FileName, "application/octet-stream", image.Reader)
	}

	resp, err := req.Post("/support")
	return check(resp, err)
}
