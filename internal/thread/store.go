// Package thread holds the message history of the conversation that is
// currently on screen, with backward pagination and de-duplication of
// events that arrive via both REST and realtime push.
package thread

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sync-client/internal/api"
	"sync-client/internal/models"
	"sync-client/internal/realtime"
)

var (
	// ErrEmptyMessage rejects whitespace-only compose text.
	ErrEmptyMessage = errors.New("thread: empty message")

	// ErrSendInFlight rejects a second send while one is pending, so a
	// double click cannot produce duplicate optimistic entries.
	ErrSendInFlight = errors.New("thread: send already in flight")

	// ErrNoConversation means no thread is open.
	ErrNoConversation = errors.New("thread: no open conversation")
)

// ReadMarker receives open and close transitions of the on-screen thread;
// the read receipt synchronizer implements it.
type ReadMarker interface {
	ConversationOpened(ctx context.Context, conversationID string)
	ConversationClosed(conversationID string)
}

// Store is the message history of one open conversation at a time. History
// survives Close and is reset on the next Open.
type Store struct {
	api      *api.Client
	rt       *realtime.Manager
	marker   ReadMarker
	log      *slog.Logger
	pageSize int

	mu          sync.Mutex
	convID      string
	recipientID string
	// open distinguishes "on screen" from "cached after Close": convID and
	// history survive Close so reopening does not flash empty, but pushes
	// only count as open-thread traffic while open is set.
	open        bool
	messages    []models.Message
	seen        map[string]struct{}
	page        int
	hasMore     bool
	loading     bool
	sending     bool
	draft       string
	// epoch counts Opens; any response carrying a stale epoch is discarded,
	// so a page fetched for conversation A cannot land in conversation B.
	epoch int

	onChange func()
}

func NewStore(apiClient *api.Client, rt *realtime.Manager, marker ReadMarker, pageSize int, log *slog.Logger) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		api:      apiClient,
		rt:       rt,
		marker:   marker,
		log:      log,
		pageSize: pageSize,
		seen:     make(map[string]struct{}),
	}
}

// SetOnChange registers the callback invoked after every visible mutation.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Open switches the store to conversationID: history and pagination reset,
// the realtime room is joined, the conversation is marked read, and the
// first page loads.
func (s *Store) Open(ctx context.Context, conversationID, recipientID string) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.convID = conversationID
	s.recipientID = recipientID
	s.open = true
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.page = 1
	s.hasMore = true
	s.loading = true
	s.mu.Unlock()

	if err := s.rt.Emit(realtime.EventJoinConversation, realtime.RoomEvent{ConversationID: conversationID}); err != nil {
		s.log.Debug("join_conversation emit skipped", "conversationId", conversationID, "error", err)
	}
	if s.marker != nil {
		s.marker.ConversationOpened(ctx, conversationID)
	}

	pg, err := s.api.ListMessages(ctx, conversationID, 1, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		// a newer Open superseded this fetch
		return nil
	}
	s.loading = false
	if err != nil {
		s.log.Error("thread first page fetch failed",
			"conversationId", conversationID, "error", err)
		return err
	}
	for _, m := range pg.Messages {
		s.appendLocked(m)
	}
	s.hasMore = pg.HasMore
	s.changedLocked()
	return nil
}

// Close leaves the realtime room. History stays cached, so reopening the
// same conversation does not flash empty.
func (s *Store) Close() {
	s.mu.Lock()
	convID := s.convID
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if convID == "" || !wasOpen {
		return
	}

	if err := s.rt.Emit(realtime.EventLeaveConversation, realtime.RoomEvent{ConversationID: convID}); err != nil {
		s.log.Debug("leave_conversation emit skipped", "conversationId", convID, "error", err)
	}
	if s.marker != nil {
		s.marker.ConversationClosed(convID)
	}
}

// LoadOlder extends history one page back in time, prepending results. It
// is a no-op while a fetch is in flight or once the server reported no
// more pages. Existing entries never move or reorder.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.convID == "" || s.loading || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	epoch := s.epoch
	convID := s.convID
	next := s.page + 1
	s.mu.Unlock()

	pg, err := s.api.ListMessages(ctx, convID, next, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return nil
	}
	s.loading = false
	if err != nil {
		s.log.Error("older page fetch failed",
			"conversationId", convID, "page", next, "error", err)
		return err
	}
	s.page = next
	s.hasMore = pg.HasMore

	older := make([]models.Message, 0, len(pg.Messages))
	for _, m := range pg.Messages {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		older = append(older, m)
	}
	s.messages = append(older, s.messages...)
	s.changedLocked()
	return nil
}

// Send posts the compose text. Whitespace-only input and overlapping sends
// are rejected. The confirmed message is appended de-duplicated by id, then
// echoed over the realtime channel so other clients of this user skip a
// REST round trip. On failure the text goes back into the draft, unless the
// user typed a newer one while the send was in flight.
func (s *Store) Send(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.convID == "" {
		s.mu.Unlock()
		return nil, ErrNoConversation
	}
	if s.sending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending = true
	s.draft = ""
	convID := s.convID
	recipientID := s.recipientID
	epoch := s.epoch
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, &api.SendMessageRequest{
		ConversationID: convID,
		RecipientID:    recipientID,
		MessageType:    models.MessageText,
		Content:        text,
		ClientID:       uuid.NewString(),
	})

	s.mu.Lock()
	s.sending = false
	if err != nil {
		// hand the text back unless the user typed a newer draft meanwhile
		if epoch == s.epoch && s.draft == "" {
			s.draft = text
		}
		s.mu.Unlock()
		s.log.Error("send failed", "conversationId", convID, "error", err)
		return nil, err
	}
	if epoch == s.epoch {
		s.appendLocked(*msg)
		s.changedLocked()
	}
	s.mu.Unlock()

	if err := s.rt.Emit(realtime.EventSendMessage, realtime.MessageEvent{ConversationID: convID, Message: msg}); err != nil {
		s.log.Debug("send_message fan-out skipped", "error", err)
	}
	return msg, nil
}

// Receive folds a realtime push into the open thread. The REST response of
// a local send and its realtime echo can both describe the same message;
// id de-duplication keeps exactly one copy. A push for the open thread is
// read immediately.
func (s *Store) Receive(ctx context.Context, ev *realtime.MessageEvent) {
	if ev == nil || ev.Message == nil {
		return
	}

	s.mu.Lock()
	if !s.open || ev.ConversationID != s.convID {
		s.mu.Unlock()
		return
	}
	added := s.appendLocked(*ev.Message)
	convID := s.convID
	if added {
		s.changedLocked()
	}
	s.mu.Unlock()

	if added && s.marker != nil {
		s.marker.ConversationOpened(ctx, convID)
	}
}

// ApplyReadReceipt flips isRead on the listed messages of the open thread.
func (s *Store) ApplyReadReceipt(ev *realtime.ReadEvent) {
	if ev == nil || len(ev.MessageIDs) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	if s.convID == "" || (ev.ConversationID != "" && ev.ConversationID != s.convID) {
		s.mu.Unlock()
		return
	}
	flipped := false
	for i := range s.messages {
		if _, ok := ids[s.messages[i].ID]; ok && !s.messages[i].IsRead {
			s.messages[i].IsRead = true
			flipped = true
		}
	}
	if flipped {
		s.changedLocked()
	}
	s.mu.Unlock()
}

// Draft returns the current compose text.
func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft stores the compose text as the user types.
func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// ConversationID returns the id of the open conversation, if any.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Messages returns a copy of the history in ascending order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// HasMore reports whether older pages remain.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Loading reports whether a page fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) appendLocked(m models.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// changedLocked defers the callback out of the lock.
func (s *Store) changedLocked() {
	fn := s.onChange
	if fn != nil {
		go fn()
	}
}
