package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-client/internal/config"
	"sync-client/internal/models"
	"sync-client/internal/realtime"
	"sync-client/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/conversations":
			json.NewEncoder(w).Encode(map[string]any{"conversations": []models.Conversation{
				{ID: "c1", UnreadCount: 2},
			}})
		case r.URL.Path == "/notifications":
			json.NewEncoder(w).Encode(map[string]any{"notifications": []models.Notification{}})
		case strings.HasSuffix(r.URL.Path, "/messages"):
			json.NewEncoder(w).Encode(map[string]any{"messages": []models.Message{}, "hasMore": false})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.API.BaseURL = srv.URL
	cfg.API.RequestTimeout = 5 * time.Second
	cfg.API.PageSize = 50
	cfg.Realtime.URL = "ws://unused"
	cfg.Gate.Interval = time.Hour
	cfg.Feed.PageSize = 20
	cfg.Feed.PollInterval = time.Hour

	store := session.NewMemoryStore(session.DefaultKeys())
	store.SetToken("tok")
	store.SetProfile(&models.UserRef{ID: "me", Username: "me"})
	return New(cfg, store, discardLogger(), Options{})
}

func TestNewMessageRoutesToDirectoryAndThread(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Directory().LoadPage(context.Background(), 1, 20))
	require.NoError(t, e.Thread().Open(context.Background(), "c1", "u2"))

	e.handleNewMessage(json.RawMessage(`{
		"conversationId": "c1",
		"message": {"id":"m1","conversationId":"c1","senderId":"them","content":"hey"}
	}`))

	msgs := e.Thread().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	conv, ok := e.Directory().Get("c1")
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m1", conv.LastMessage.ID)
}

func TestMalformedNewMessageIsDropped(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Directory().LoadPage(context.Background(), 1, 20))

	e.handleNewMessage(json.RawMessage(`{"conversationId":"c1","message":{"content":"no id"}}`))
	e.handleNewMessage(json.RawMessage(`not json`))

	conv, _ := e.Directory().Get("c1")
	assert.Nil(t, conv.LastMessage)
}

func TestNotificationEnvelopeReachesFeed(t *testing.T) {
	e := newTestEngine(t)

	e.handleNotification(json.RawMessage(`{"notification":{"id":"n1","type":"like"}}`))
	e.handleNotification(json.RawMessage(`{"id":"n2","type":"follow"}`))
	e.handleNotification(json.RawMessage(`{"id":"n1","type":"like"}`))

	snap := e.Feed().Snapshot()
	require.Len(t, snap, 2, "duplicate id folds away")
	assert.Equal(t, "n2", snap[0].ID)
	assert.Equal(t, "n1", snap[1].ID)
}

func TestMessageReadReachesOpenThread(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Thread().Open(context.Background(), "c1", "u2"))
	e.handleNewMessage(json.RawMessage(`{
		"conversationId": "c1",
		"message": {"id":"m1","conversationId":"c1","senderId":"me","content":"hey"}
	}`))

	e.handleMessageRead(json.RawMessage(`{"conversationId":"c1","messageIds":["m1"]}`))

	msgs := e.Thread().Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)
}

func TestCommentDeduplication(t *testing.T) {
	e := newTestEngine(t)

	var mu sync.Mutex
	var got []string
	e.SetOnComment(func(ev *realtime.CommentEvent) {
		mu.Lock()
		got = append(got, ev.Comment.ID)
		mu.Unlock()
	})

	e.handleNewComment(json.RawMessage(`{"postId":"p1","comment":{"id":"cm1"}}`))
	e.handleNewComment(json.RawMessage(`{"postId":"p1","comment":{"id":"cm1"}}`))
	e.handleNewComment(json.RawMessage(`{"postId":"p1","comment":{"id":"cm2"}}`))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"cm1", "cm2"}, got)
}

func TestEngineImplementsStatusSource(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Directory().LoadPage(context.Background(), 1, 20))

	assert.Equal(t, "disconnected", e.ConnectionState())
	assert.False(t, e.Connected())
	assert.Equal(t, 1, e.Conversations())
	assert.Equal(t, 2, e.UnreadTotal())
	assert.Zero(t, e.NotificationsUnread())
}
