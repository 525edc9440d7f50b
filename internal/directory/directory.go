// Package directory maintains the ordered view of every conversation the
// local user is in: previews, unread counters, most-recent-activity order.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"sync-client/internal/api"
	"sync-client/internal/models"
	"sync-client/internal/realtime"
)

const reloadPageSize = 50

// Directory maps conversation id to conversation, with a separate order
// slice kept most-recent-activity-first.
type Directory struct {
	api    *api.Client
	log    *slog.Logger
	userID string

	mu     sync.Mutex
	byID   map[string]*models.Conversation
	order  []string
	openID string

	onChange func()
}

func New(apiClient *api.Client, userID string, log *slog.Logger) *Directory {
	return &Directory{
		api:    apiClient,
		log:    log,
		userID: userID,
		byID:   make(map[string]*models.Conversation),
	}
}

// SetLocalUser records whose unread counters are being maintained;
// messages this user sent never bump a counter. Set once the cached
// profile becomes available.
func (d *Directory) SetLocalUser(userID string) {
	d.mu.Lock()
	d.userID = userID
	d.mu.Unlock()
}

// SetOnChange registers the callback invoked after every visible mutation.
func (d *Directory) SetOnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// SetOpen records which conversation is on screen. Incoming messages for
// the open conversation are considered read immediately and do not bump
// its unread counter.
func (d *Directory) SetOpen(conversationID string) {
	d.mu.Lock()
	d.openID = conversationID
	d.mu.Unlock()
}

// ClearOpen resets the open marker, but only if conversationID still is the
// open one; a Close racing a newer Open must not clobber it.
func (d *Directory) ClearOpen(conversationID string) {
	d.mu.Lock()
	if d.openID == conversationID {
		d.openID = ""
	}
	d.mu.Unlock()
}

// LoadPage merges one REST page into the directory. Fields the server never
// sends, like the pinned and muted flags, keep their cached values instead
// of being overwritten with zeroes. A failed fetch leaves prior state
// untouched.
func (d *Directory) LoadPage(ctx context.Context, page, limit int) error {
	fresh, err := d.api.ListConversations(ctx, page, limit)
	if err != nil {
		d.log.Error("conversation page fetch failed", "page", page, "error", err)
		return err
	}

	d.mu.Lock()
	for i := range fresh {
		nc := fresh[i]
		if prev, ok := d.byID[nc.ID]; ok {
			nc.IsPinned = prev.IsPinned
			nc.IsMuted = prev.IsMuted
			if nc.LastMessage == nil {
				nc.LastMessage = prev.LastMessage
			}
			*prev = nc
		} else {
			cp := nc
			d.byID[nc.ID] = &cp
			d.order = append(d.order, nc.ID)
		}
	}
	d.resortLocked()
	d.mu.Unlock()

	d.changed()
	return nil
}

// StartConversation returns the conversation with userID, asking the server
// to create one if none exists, and places it at the front.
func (d *Directory) StartConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := d.api.CreateConversation(ctx, userID)
	if err != nil {
		d.log.Error("conversation create failed", "userId", userID, "error", err)
		return nil, err
	}

	d.mu.Lock()
	if prev, ok := d.byID[conv.ID]; ok {
		conv.IsPinned = prev.IsPinned
		conv.IsMuted = prev.IsMuted
		*prev = *conv
	} else {
		cp := *conv
		d.byID[conv.ID] = &cp
		d.order = append([]string{conv.ID}, d.order...)
	}
	d.moveToFrontLocked(conv.ID)
	d.mu.Unlock()

	d.changed()
	return conv, nil
}

// ApplyIncoming folds a realtime message into the directory. A message for
// an unknown conversation means the directory is stale, typically a brand
// new conversation, so the first page is reloaded wholesale. Otherwise the
// preview updates, the unread counter bumps unless the conversation is
// open, and the entry moves to the front without resorting the rest.
func (d *Directory) ApplyIncoming(ctx context.Context, ev *realtime.MessageEvent) {
	if ev == nil || ev.Message == nil {
		return
	}
	msg := ev.Message

	d.mu.Lock()
	conv, ok := d.byID[ev.ConversationID]
	if !ok {
		d.mu.Unlock()
		d.log.Debug("message for unknown conversation, reloading directory",
			"conversationId", ev.ConversationID)
		d.LoadPage(ctx, 1, reloadPageSize)
		return
	}

	conv.LastMessage = msg
	conv.LastMessageAt = msg.CreatedAt
	if d.openID != conv.ID && msg.SenderID != d.userID {
		conv.UnreadCount++
	}
	d.moveToFrontLocked(conv.ID)
	d.mu.Unlock()

	d.changed()
}

// MarkRead zeroes the unread counter immediately and confirms with the
// server. Read state is best effort: a failed confirmation is logged, not
// rolled back, and the next snapshot heals any drift.
func (d *Directory) MarkRead(ctx context.Context, conversationID string) {
	d.mu.Lock()
	if conv, ok := d.byID[conversationID]; ok {
		conv.UnreadCount = 0
	}
	d.mu.Unlock()
	d.changed()

	if err := d.api.MarkConversationRead(ctx, conversationID); err != nil {
		d.log.Error("mark conversation read failed",
			"conversationId", conversationID, "error", err)
	}
}

// SetPinned flips the local-only pinned flag.
func (d *Directory) SetPinned(conversationID string, pinned bool) {
	d.mu.Lock()
	if conv, ok := d.byID[conversationID]; ok {
		conv.IsPinned = pinned
	}
	d.mu.Unlock()
	d.changed()
}

// SetMuted flips the local-only muted flag.
func (d *Directory) SetMuted(conversationID string, muted bool) {
	d.mu.Lock()
	if conv, ok := d.byID[conversationID]; ok {
		conv.IsMuted = muted
	}
	d.mu.Unlock()
	d.changed()
}

// Get returns a copy of one conversation.
func (d *Directory) Get(conversationID string) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.byID[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

// Snapshot returns the ordered conversation list, most recent first.
func (d *Directory) Snapshot() []models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Conversation, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.byID[id])
	}
	return out
}

// Len returns the number of known conversations.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// UnreadTotal sums the unread counters across all conversations.
func (d *Directory) UnreadTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, conv := range d.byID {
		total += conv.UnreadCount
	}
	return total
}

// moveToFrontLocked shifts one entry to position 0, leaving the relative
// order of everything else alone. The event path never pays for a full
// sort.
func (d *Directory) moveToFrontLocked(id string) {
	for i, cur := range d.order {
		if cur == id {
			copy(d.order[1:i+1], d.order[:i])
			d.order[0] = id
			return
		}
	}
}

// resortLocked orders by last activity, newest first. Only snapshot merges
// pay for this.
func (d *Directory) resortLocked() {
	sort.SliceStable(d.order, func(i, j int) bool {
		return d.byID[d.order[i]].LastMessageAt.After(d.byID[d.order[j]].LastMessageAt)
	})
}

func (d *Directory) changed() {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}
