package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalMessageEventEnveloped(t *testing.T) {
	data := []byte(`{"conversationId":"c1","message":{"id":"m1","conversationId":"c1","senderId":"u2","content":"hey"}}`)

	ev, err := UnmarshalMessageEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "hey", ev.Message.Content)
}

func TestUnmarshalMessageEventBare(t *testing.T) {
	data := []byte(`{"id":"m2","conversationId":"c9","senderId":"u1","messageType":"text","content":"hi"}`)

	ev, err := UnmarshalMessageEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "c9", ev.ConversationID)
	assert.Equal(t, "m2", ev.Message.ID)
}

func TestUnmarshalMessageEventRejectsMissingID(t *testing.T) {
	_, err := UnmarshalMessageEvent([]byte(`{"content":"no id"}`))
	assert.Error(t, err)
}

func TestUnwrapNotificationEnvelope(t *testing.T) {
	data := []byte(`{"notification":{"id":"n1","type":"like","createdAt":"2024-05-01T10:00:00Z"}}`)

	n, err := UnwrapNotification(data)
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), n.CreatedAt)
}

func TestUnwrapNotificationBare(t *testing.T) {
	data := []byte(`{"id":"n2","type":"follow"}`)

	n, err := UnwrapNotification(data)
	require.NoError(t, err)
	assert.Equal(t, "n2", n.ID)
}

func TestUnwrapNotificationRejectsGarbage(t *testing.T) {
	_, err := UnwrapNotification([]byte(`{"something":"else"}`))
	assert.Error(t, err)
}

func TestUnmarshalCommentEventKeepsRaw(t *testing.T) {
	data := []byte(`{"postId":"p1","comment":{"id":"cm1","text":"nice"}}`)

	ev, err := UnmarshalCommentEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "p1", ev.PostID)
	assert.Equal(t, "cm1", ev.Comment.ID)
	assert.JSONEq(t, string(data), string(ev.Raw))
}
