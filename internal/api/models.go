package api

import (
	"encoding/json"
	"time"

	"github.com/tradeline/chatsync/internal/normalize"
)

// UserRef identifies a user inside chat payloads. The backend sometimes
// embeds the full user object and sometimes only the bare id string, so it
// decodes from both forms.
type UserRef struct {
	ID           string `json:"_id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
}

// UnmarshalJSON accepts either "u1" or {"_id": "u1", ...}.
func (u *UserRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*u = UserRef{ID: id}
		return nil
	}

	type plain UserRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = UserRef(p)
	return nil
}

// DisplayName prefers the username and falls back to the real name.
func (u UserRef) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

// AvatarURL resolves the profile image against the uploads base, with the
// backend's stock default when the user has no image.
func (u UserRef) AvatarURL(baseURL string) string {
	if u.ProfileImage == "" {
		return normalize.ImageURL("default-user.png", baseURL)
	}
	return normalize.ImageURL(u.ProfileImage, baseURL)
}

// ChatRef is a conversation id that may arrive as a bare string or as a
// nested conversation object.
type ChatRef string

// UnmarshalJSON normalizes both wire forms into the bare id.
func (c *ChatRef) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = ChatRef(normalize.ObjectRef(v))
	return nil
}

// ImageList is a message attachment reference; direct chats deliver a single
// string, support tickets deliver an array.
type ImageList []string

// UnmarshalJSON accepts "a.png", ["a.png", "b.png"] or null.
func (l *ImageList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = ImageList{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = ImageList(many)
	return nil
}

// Message is a single chat or support message.
type Message struct {
	ID        string    `json:"_id"`
	Chat      ChatRef   `json:"chat"`
	Sender    UserRef   `json:"sender"`
	Receiver  UserRef   `json:"receiver"`
	Content   string    `json:"content"`
	Image     ImageList `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasBody reports whether the message carries any content at all.
func (m *Message) HasBody() bool {
	return m.Content != "" || len(m.Image) > 0
}

// Chat is a conversation summary as returned by the list endpoints.
type Chat struct {
	ID            string    `json:"_id"`
	Participants  []UserRef `json:"participants"`
	LatestMessage *Message  `json:"latestMessage"`
	UnreadCount   int       `json:"unreadCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Peer returns the participant other than the given local user, if any.
func (c *Chat) Peer(localUserID string) (UserRef, bool) {
	for _, p := range c.Participants {
		if p.ID != localUserID {
			return p, true
		}
	}
	return UserRef{}, false
}

// SupportThread is the user's support ticket: its full message history and
// whether an admin has closed it.
type SupportThread struct {
	Messages []Message `json:"messages"`
	IsClosed bool      `json:"isClosed"`
}

// User is a full public profile.
type User struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	ProfileImage string    `json:"profileImage"`
	BannerImage  string    `json:"bannerImage"`
	City         string    `json:"city"`
	Gender       string    `json:"gender"`
	Birthday     time.Time `json:"birthday"`
}

// Product is a marketplace listing shown on a profile page.
type Product struct {
	ID    string    `json:"_id"`
	Title string    `json:"title"`
	Price float64   `json:"price"`
	Image ImageList `json:"image"`
	Owner UserRef   `json:"owner"`
}
