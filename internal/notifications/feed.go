// Package notifications maintains the reverse-chronological activity feed,
// merging realtime pushes with polled REST snapshots.
package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sync-client/internal/api"
	"sync-client/internal/models"
)

// Feed is the in-memory notification list, newest first, keyed by id.
type Feed struct {
	api      *api.Client
	log      *slog.Logger
	pageSize int
	interval time.Duration

	mu      sync.Mutex
	items   []models.Notification
	seen    map[string]struct{}
	loaded  bool
	visible bool

	onChange func()
}

func NewFeed(apiClient *api.Client, pageSize int, interval time.Duration, log *slog.Logger) *Feed {
	if pageSize <= 0 {
		pageSize = 20
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		api:      apiClient,
		log:      log,
		pageSize: pageSize,
		interval: interval,
		seen:     make(map[string]struct{}),
	}
}

// SetOnChange registers the callback invoked after every visible mutation.
func (f *Feed) SetOnChange(fn func()) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Refresh replaces the feed with the latest authoritative snapshot.
// Notifications are read-mostly, so the snapshot wins over merging. A
// failed refresh keeps the previous snapshot; only the very first load can
// leave the feed empty.
func (f *Feed) Refresh(ctx context.Context) error {
	fresh, err := f.api.ListNotifications(ctx, 1, f.pageSize)
	if err != nil {
		f.log.Error("notification refresh failed", "error", err)
		return err
	}

	f.mu.Lock()
	f.items = fresh
	f.seen = make(map[string]struct{}, len(fresh))
	for _, n := range fresh {
		f.seen[n.ID] = struct{}{}
	}
	f.loaded = true
	f.mu.Unlock()

	f.changed()
	return nil
}

// Receive prepends a realtime push unless an entry with the same id
// already exists. Realtime arrivals are by definition the newest; an
// already-known id changes nothing, not even position.
func (f *Feed) Receive(n *models.Notification) {
	if n == nil || n.ID == "" {
		return
	}

	f.mu.Lock()
	if _, dup := f.seen[n.ID]; dup {
		f.mu.Unlock()
		return
	}
	f.seen[n.ID] = struct{}{}
	f.items = append([]models.Notification{*n}, f.items...)
	f.mu.Unlock()

	f.changed()
}

// MarkRead flips the local flag immediately and confirms with the server.
// A failed confirmation is logged; the next refresh heals the drift.
func (f *Feed) MarkRead(ctx context.Context, notificationID string) {
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == notificationID {
			f.items[i].IsRead = true
			break
		}
	}
	f.mu.Unlock()
	f.changed()

	if err := f.api.MarkNotificationRead(ctx, notificationID); err != nil {
		f.log.Error("mark notification read failed",
			"notificationId", notificationID, "error", err)
	}
}

// SetVisible gates the poller: the snapshot only refreshes while some
// notification surface is on screen.
func (f *Feed) SetVisible(visible bool) {
	f.mu.Lock()
	f.visible = visible
	f.mu.Unlock()
}

// Visible reports whether a notification surface is on screen.
func (f *Feed) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// Run polls Refresh on the configured interval while visible, until ctx
// ends. Errors are already logged inside Refresh; the last good snapshot
// stays put.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !f.Visible() {
				continue
			}
			f.Refresh(ctx)
		}
	}
}

// Snapshot returns a copy of the feed, newest first.
func (f *Feed) Snapshot() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// UnreadCount returns the number of unread entries.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Loaded reports whether at least one refresh has succeeded.
func (f *Feed) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Feed) changed() {
	f.mu.Lock()
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}
