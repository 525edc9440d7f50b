package directory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-client/internal/api"
	"sync-client/internal/models"
	"sync-client/internal/realtime"
	"sync-client/internal/session"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func conv(id string, lastAt time.Time) models.Conversation {
	return models.Conversation{ID: id, LastMessageAt: lastAt}
}

// newDirectory serves the given conversations from a fake backend and
// returns the directory plus a counter of read confirmations received.
func newDirectory(t *testing.T, convs []models.Conversation, readStatus int) (*Directory, *atomic.Int32) {
	t.Helper()
	var reads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			reads.Add(1)
			w.WriteHeader(readStatus)
		case http.MethodPost:
			var req struct {
				UserID string `json:"userId"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]any{"conversation": models.Conversation{
				ID:           "with-" + req.UserID,
				Participants: []models.UserRef{{ID: "me"}, {ID: req.UserID}},
			}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"conversations": convs})
		}
	}))
	t.Cleanup(srv.Close)

	store := session.NewMemoryStore(session.DefaultKeys())
	store.SetToken("tok")
	client := api.NewClient(srv.URL, 5*time.Second, store, discardLogger())
	return New(client, "me", discardLogger()), &reads
}

func incoming(convID, msgID, sender string, at time.Time) *realtime.MessageEvent {
	return &realtime.MessageEvent{
		ConversationID: convID,
		Message: &models.Message{
			ID:             msgID,
			ConversationID: convID,
			SenderID:       sender,
			Content:        "hi",
			CreatedAt:      at,
		},
	}
}

func orderOf(d *Directory) []string {
	snap := d.Snapshot()
	ids := make([]string, 0, len(snap))
	for _, c := range snap {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestLoadPageOrdersByActivity(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{
		conv("a", baseTime.Add(1*time.Minute)),
		conv("b", baseTime.Add(3*time.Minute)),
		conv("c", baseTime.Add(2*time.Minute)),
	}, http.StatusOK)

	require.NoError(t, d.LoadPage(context.Background(), 1, 20))
	assert.Equal(t, []string{"b", "c", "a"}, orderOf(d))
}

func TestIncomingMovesConversationToFront(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{
		conv("c", baseTime.Add(3*time.Minute)),
		conv("b", baseTime.Add(2*time.Minute)),
		conv("a", baseTime.Add(1*time.Minute)),
	}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))
	require.Equal(t, []string{"c", "b", "a"}, orderOf(d))

	d.ApplyIncoming(context.Background(), incoming("a", "m1", "them", baseTime.Add(time.Hour)))
	assert.Equal(t, []string{"a", "c", "b"}, orderOf(d))

	got, ok := d.Get("a")
	require.True(t, ok)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m1", got.LastMessage.ID)
}

func TestIncomingBumpsUnread(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	d.ApplyIncoming(context.Background(), incoming("a", "m1", "them", baseTime.Add(time.Minute)))
	d.ApplyIncoming(context.Background(), incoming("a", "m2", "them", baseTime.Add(2*time.Minute)))

	got, _ := d.Get("a")
	assert.Equal(t, 2, got.UnreadCount)
	assert.Equal(t, 2, d.UnreadTotal())
}

func TestOpenConversationDoesNotBumpUnread(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	d.SetOpen("a")
	d.ApplyIncoming(context.Background(), incoming("a", "m1", "them", baseTime.Add(time.Minute)))

	got, _ := d.Get("a")
	assert.Zero(t, got.UnreadCount)
}

func TestOwnMessagesDoNotBumpUnread(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	d.ApplyIncoming(context.Background(), incoming("a", "m1", "me", baseTime.Add(time.Minute)))

	got, _ := d.Get("a")
	assert.Zero(t, got.UnreadCount)
}

func TestClearOpenRespectsNewerOpen(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime), conv("b", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	d.SetOpen("a")
	d.SetOpen("b")
	d.ClearOpen("a")

	d.ApplyIncoming(context.Background(), incoming("b", "m1", "them", baseTime.Add(time.Minute)))
	got, _ := d.Get("b")
	assert.Zero(t, got.UnreadCount, "b is still open, unread must not bump")
}

func TestMergePreservesLocalFlags(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	d.SetPinned("a", true)
	d.SetMuted("a", true)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	got, _ := d.Get("a")
	assert.True(t, got.IsPinned)
	assert.True(t, got.IsMuted)
}

func TestUnknownConversationTriggersReload(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("brand-new", baseTime)}, http.StatusOK)

	d.ApplyIncoming(context.Background(), incoming("brand-new", "m1", "them", baseTime))
	assert.Equal(t, 1, d.Len())
	_, ok := d.Get("brand-new")
	assert.True(t, ok)
}

func TestMarkReadIsOptimistic(t *testing.T) {
	d, reads := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusInternalServerError)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))
	d.ApplyIncoming(context.Background(), incoming("a", "m1", "them", baseTime.Add(time.Minute)))

	d.MarkRead(context.Background(), "a")

	got, _ := d.Get("a")
	assert.Zero(t, got.UnreadCount, "counter zeroes even when the confirm fails")
	assert.Equal(t, int32(1), reads.Load())
}

func TestStartConversationFrontsNewEntry(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	require.NoError(t, d.LoadPage(context.Background(), 1, 20))

	got, err := d.StartConversation(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, "with-u9", got.ID)
	assert.Equal(t, []string{"with-u9", "a"}, orderOf(d))
}

func TestOnChangeFires(t *testing.T) {
	d, _ := newDirectory(t, []models.Conversation{conv("a", baseTime)}, http.StatusOK)
	var fired atomic.Int32
	d.SetOnChange(func() { fired.Add(1) })

	require.NoError(t, d.LoadPage(context.Background(), 1, 20))
	assert.Positive(t, fired.Load())
}
