package models

import "time"

/** --------------------ENTITIES-------------------- */

// UserRef is the lightweight profile embedded in conversations, messages
// and notifications.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessageType distinguishes text and image messages.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Message belongs to exactly one conversation. The id is the identity key:
// the same message can arrive via a REST response and a realtime push, and
// consumers de-duplicate on it.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	RecipientID    string      `json:"recipientId"`
	Type           MessageType `json:"messageType"`
	Content        string      `json:"content,omitempty"`
	ImageURL       string      `json:"imageUrl,omitempty"`
	IsRead         bool        `json:"isRead"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Conversation is one inbox entry. The unread counter is client-observed
// and self-heals against the next authoritative snapshot.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []UserRef `json:"participants"`
	LastMessage   *Message  `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`

	// Local-only flags. REST payloads never carry them, so snapshot merges
	// must preserve the cached values instead of overwriting with zeroes.
	IsPinned bool `json:"isPinned,omitempty"`
	IsMuted  bool `json:"isMuted,omitempty"`
}

// NotificationType enumerates the activity feed entry kinds.
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationMention NotificationType = "mention"
	NotificationPost    NotificationType = "post"
)

// Notification is one activity feed entry, identity key id, newest first.
type Notification struct {
	ID               string           `json:"id"`
	Actor            UserRef          `json:"actor"`
	Type             NotificationType `json:"type"`
	RelatedPostID    string           `json:"relatedPostId,omitempty"`
	RelatedPostImage string           `json:"relatedPostImage,omitempty"`
	Content          string           `json:"content,omitempty"`
	IsRead           bool             `json:"isRead"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Session is the read-only view of the auth collaborator's state.
type Session struct {
	HasToken bool
	UserID   string
	Token    string
}
