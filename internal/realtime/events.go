package realtime

import (
	"encoding/json"
	"fmt"

	"sync-client/internal/models"
)

// EventType names a realtime channel event.
type EventType string

const (
	// Consumed
	EventNewMessage  EventType = "new_message"
	EventMessageRead EventType = "message_read"

	EventNewNotification     EventType = "new_notification"
	EventNotification        EventType = "notification"
	EventLikeNotification    EventType = "like_notification"
	EventCommentNotification EventType = "comment_notification"
	EventFollowNotification  EventType = "follow_notification"

	EventNewComment EventType = "new_comment"

	// Emitted
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
)

func (et EventType) String() string {
	return string(et)
}

// Event is the wire envelope: a named event carrying a JSON payload.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageEvent is the payload of new_message and send_message.
type MessageEvent struct {
	ConversationID string          `json:"conversationId"`
	Message        *models.Message `json:"message"`
}

// UnmarshalMessageEvent accepts both the enveloped form
// {conversationId, message} and a bare message object.
func UnmarshalMessageEvent(data []byte) (*MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err == nil && ev.Message != nil && ev.Message.ID != "" {
		if ev.ConversationID == "" {
			ev.ConversationID = ev.Message.ConversationID
		}
		return &ev, nil
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("realtime: malformed message event: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("realtime: message event without id")
	}
	return &MessageEvent{ConversationID: msg.ConversationID, Message: &msg}, nil
}

// ReadEvent is the payload of message_read.
type ReadEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// RoomEvent scopes push delivery to one conversation.
type RoomEvent struct {
	ConversationID string `json:"conversationId"`
}

// CommentEvent is the payload of new_comment, a post detail concern that
// rides the same channel.
type CommentEvent struct {
	PostID  string `json:"postId"`
	Comment struct {
		ID string `json:"id"`
	} `json:"comment"`
	Raw json.RawMessage `json:"-"`
}

func UnmarshalCommentEvent(data []byte) (*CommentEvent, error) {
	var ev CommentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("realtime: malformed comment event: %w", err)
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}

// UnwrapNotification handles both a bare notification object and the
// {notification: {...}} envelope the type-specific sub-events use.
func UnwrapNotification(data []byte) (*models.Notification, error) {
	var env struct {
		Notification *models.Notification `json:"notification"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Notification != nil && env.Notification.ID != "" {
		return env.Notification, nil
	}
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("realtime: malformed notification event: %w", err)
	}
	if n.ID == "" {
		return nil, fmt.Errorf("realtime: notification event without id")
	}
	return &n, nil
}
