// Package readsync keeps optimistic read state and server truth loosely in
// step. Flips happen locally before the network call resolves, the
// confirmation fires best effort, and the next authoritative snapshot heals
// whatever drifted. Read receipts favor responsiveness over strict
// consistency.
package readsync

import (
	"context"
	"log/slog"

	"sync-client/internal/directory"
	"sync-client/internal/notifications"
)

// Synchronizer observes view-state transitions and propagates read flags
// in both directions: local optimistic flip first, server confirmation
// second. It implements thread.ReadMarker.
type Synchronizer struct {
	dir  *directory.Directory
	feed *notifications.Feed
	log  *slog.Logger
}

func New(dir *directory.Directory, feed *notifications.Feed, log *slog.Logger) *Synchronizer {
	return &Synchronizer{dir: dir, feed: feed, log: log}
}

// ConversationOpened marks the newly open thread read: the counter zeroes
// before the server confirms, and stays zeroed even if the confirmation
// fails.
func (s *Synchronizer) ConversationOpened(ctx context.Context, conversationID string) {
	s.dir.SetOpen(conversationID)
	s.dir.MarkRead(ctx, conversationID)
}

// ConversationClosed drops the open marker so later messages count as
// unread again.
func (s *Synchronizer) ConversationClosed(conversationID string) {
	s.dir.ClearOpen(conversationID)
}

// NotificationClicked flips the notification before any click-through
// navigation happens.
func (s *Synchronizer) NotificationClicked(ctx context.Context, notificationID string) {
	s.feed.MarkRead(ctx, notificationID)
}
