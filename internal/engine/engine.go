// Package engine wires the synchronization core together: session gate,
// realtime channel, conversation directory, thread store and notification
// feed, plus the optional event sink.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sync-client/internal/api"
	"sync-client/internal/config"
	"sync-client/internal/directory"
	"sync-client/internal/notifications"
	"sync-client/internal/readsync"
	"sync-client/internal/realtime"
	"sync-client/internal/session"
	"sync-client/internal/sink"
	"sync-client/internal/thread"
)

// handlerTimeout bounds the REST work a single realtime event may trigger.
const handlerTimeout = 10 * time.Second

// Options carries the injectable collaborators. Zero value is production
// wiring.
type Options struct {
	// Dial overrides the websocket dialer; tests inject fake transports
	// through it.
	Dial realtime.DialFunc

	// Sink, when set, receives a copy of every synced realtime event.
	Sink *sink.Kafka
}

// Engine owns the lifecycle of the whole sync core. One engine per
// session-holding process.
type Engine struct {
	cfg   *config.Config
	log   *slog.Logger
	store session.Store

	rt     *realtime.Manager
	api    *api.Client
	dir    *directory.Directory
	thread *thread.Store
	feed   *notifications.Feed
	rsync  *readsync.Synchronizer
	gate   *session.Gate
	sink   *sink.Kafka

	offs []func()

	cmu          sync.Mutex
	seenComments map[string]struct{}
	onComment    func(*realtime.CommentEvent)
}

func New(cfg *config.Config, store session.Store, log *slog.Logger, opts Options) *Engine {
	rt := realtime.NewManager(realtime.Options{
		URL:              cfg.Realtime.URL,
		ConnectTimeout:   cfg.Realtime.ConnectTimeout,
		ReconnectInitial: cfg.Realtime.ReconnectInitial,
		ReconnectMax:     cfg.Realtime.ReconnectMax,
		Dial:             opts.Dial,
		Logger:           log,
		TokenSource: func() string {
			tok, _ := store.Token(context.Background())
			return tok
		},
	})
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, store, log)

	userID := ""
	if prof, ok := store.Profile(context.Background()); ok {
		userID = prof.ID
	}
	dir := directory.New(apiClient, userID, log)
	feed := notifications.NewFeed(apiClient, cfg.Feed.PageSize, cfg.Feed.PollInterval, log)
	rsync := readsync.New(dir, feed, log)
	th := thread.NewStore(apiClient, rt, rsync, cfg.API.PageSize, log)
	gate := session.NewGate(store, rt, cfg.Gate.Interval, log)

	return &Engine{
		cfg:          cfg,
		log:          log,
		store:        store,
		rt:           rt,
		api:          apiClient,
		dir:          dir,
		thread:       th,
		feed:         feed,
		rsync:        rsync,
		gate:         gate,
		sink:         opts.Sink,
		seenComments: make(map[string]struct{}),
	}
}

// Run attaches the realtime event routes and drives the reconciliation
// loops until ctx ends. All listeners detach on exit, so a stopped engine
// leaves nothing behind on the channel.
func (e *Engine) Run(ctx context.Context) {
	e.attach()
	defer e.detach()

	go e.feed.Run(ctx)
	go e.watchProfile(ctx)
	e.gate.Run(ctx)
}

// Focus forces an immediate session reconcile, the window-focus-regained
// trigger.
func (e *Engine) Focus() {
	e.gate.Kick()
}

// SetOnComment registers the post-detail consumer of new_comment pushes.
// Comments live outside the messaging core, but the same id
// de-duplication applies before the callback fires.
func (e *Engine) SetOnComment(fn func(*realtime.CommentEvent)) {
	e.cmu.Lock()
	e.onComment = fn
	e.cmu.Unlock()
}

// Directory exposes the conversation directory to embedding surfaces.
func (e *Engine) Directory() *directory.Directory { return e.dir }

// Thread exposes the open-thread store.
func (e *Engine) Thread() *thread.Store { return e.thread }

// Feed exposes the notification feed.
func (e *Engine) Feed() *notifications.Feed { return e.feed }

// ReadSync exposes the read receipt synchronizer.
func (e *Engine) ReadSync() *readsync.Synchronizer { return e.rsync }

// Realtime exposes the connection manager.
func (e *Engine) Realtime() *realtime.Manager { return e.rt }

// status.Source

func (e *Engine) ConnectionState() string  { return e.rt.State().String() }
func (e *Engine) Connected() bool          { return e.rt.Connected() }
func (e *Engine) Conversations() int       { return e.dir.Len() }
func (e *Engine) UnreadTotal() int         { return e.dir.UnreadTotal() }
func (e *Engine) NotificationsUnread() int { return e.feed.UnreadCount() }

func (e *Engine) attach() {
	e.offs = append(e.offs,
		e.rt.On(realtime.EventNewMessage, e.handleNewMessage),
		e.rt.On(realtime.EventMessageRead, e.handleMessageRead),
		e.rt.On(realtime.EventNewComment, e.handleNewComment),
	)
	for _, evt := range []realtime.EventType{
		realtime.EventNewNotification,
		realtime.EventNotification,
		realtime.EventLikeNotification,
		realtime.EventCommentNotification,
		realtime.EventFollowNotification,
	} {
		e.offs = append(e.offs, e.rt.On(evt, e.handleNotification))
	}
}

func (e *Engine) detach() {
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
}

// watchProfile keeps the directory's local-user id in step with the cached
// profile, which may only appear after login.
func (e *Engine) watchProfile(ctx context.Context) {
	watch := e.store.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watch:
			if !ok {
				return
			}
			if prof, found := e.store.Profile(ctx); found {
				e.dir.SetLocalUser(prof.ID)
			}
		}
	}
}

func (e *Engine) handleNewMessage(data json.RawMessage) {
	ev, err := realtime.UnmarshalMessageEvent(data)
	if err != nil {
		e.log.Warn("new_message dropped", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	e.thread.Receive(ctx, ev)
	e.dir.ApplyIncoming(ctx, ev)
	e.publish(ctx, realtime.EventNewMessage, data)
}

func (e *Engine) handleMessageRead(data json.RawMessage) {
	var ev realtime.ReadEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		e.log.Warn("message_read dropped", "error", err)
		return
	}
	e.thread.ApplyReadReceipt(&ev)
}

func (e *Engine) handleNotification(data json.RawMessage) {
	n, err := realtime.UnwrapNotification(data)
	if err != nil {
		e.log.Warn("notification dropped", "error", err)
		return
	}
	e.feed.Receive(n)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	e.publish(ctx, realtime.EventNewNotification, data)
}

func (e *Engine) handleNewComment(data json.RawMessage) {
	ev, err := realtime.UnmarshalCommentEvent(data)
	if err != nil {
		e.log.Warn("new_comment dropped", "error", err)
		return
	}

	e.cmu.Lock()
	if ev.Comment.ID != "" {
		if _, dup := e.seenComments[ev.Comment.ID]; dup {
			e.cmu.Unlock()
			return
		}
		e.seenComments[ev.Comment.ID] = struct{}{}
	}
	fn := e.onComment
	e.cmu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (e *Engine) publish(ctx context.Context, event realtime.EventType, data json.RawMessage) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ctx, event.String(), data)
}
