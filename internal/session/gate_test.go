package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu          sync.Mutex
	active      bool
	connects    int
	disconnects int
	lastToken   string
}

func (f *fakeConnector) Connect(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.connects++
	f.lastToken = token
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.disconnects++
	}
	f.active = false
}

func (f *fakeConnector) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeConnector) stats() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileConnectsWithToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultKeys())
	store.SetToken("tok")
	conn := &fakeConnector{}
	gate := NewGate(store, conn, time.Second, discardLogger())

	gate.Reconcile(ctx)

	assert.True(t, conn.Active())
	assert.Equal(t, "tok", conn.lastToken)
}

func TestReconcileIsLevelTriggered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultKeys())
	store.SetToken("tok")
	conn := &fakeConnector{}
	gate := NewGate(store, conn, time.Second, discardLogger())

	gate.Reconcile(ctx)
	gate.Reconcile(ctx)
	gate.Reconcile(ctx)

	connects, _ := conn.stats()
	assert.Equal(t, 1, connects, "reconcile must not reconnect an active channel")
}

func TestReconcileDisconnectsWithoutToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultKeys())
	conn := &fakeConnector{}
	conn.Connect("stale")
	gate := NewGate(store, conn, time.Second, discardLogger())

	gate.Reconcile(ctx)

	assert.False(t, conn.Active())
}

// Logout then login: the gate must tear the channel down within one tick of
// the token disappearing, and bring it back unprompted when it returns.
func TestRunReconnectsAfterLogoutLogin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(DefaultKeys())
	conn := &fakeConnector{}
	gate := NewGate(store, conn, 20*time.Millisecond, discardLogger())
	go gate.Run(ctx)

	store.SetToken("tok")
	require.Eventually(t, conn.Active, time.Second, 5*time.Millisecond)

	store.Clear()
	require.Eventually(t, func() bool { return !conn.Active() }, time.Second, 5*time.Millisecond,
		"channel must close within one tick of logout")

	store.SetToken("tok2")
	require.Eventually(t, conn.Active, time.Second, 5*time.Millisecond,
		"channel must come back without manual intervention")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, "tok2", conn.lastToken)
}

func TestRunIgnoresExpiredToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(DefaultKeys())
	store.SetToken(signedJWT(t, time.Now().Add(-time.Hour)))
	conn := &fakeConnector{}
	gate := NewGate(store, conn, 20*time.Millisecond, discardLogger())
	go gate.Run(ctx)

	time.Sleep(80 * time.Millisecond)
	connects, _ := conn.stats()
	assert.Zero(t, connects, "an expired token must not open a channel")
}

func TestKickForcesImmediateReconcile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(DefaultKeys())
	conn := &fakeConnector{}
	// interval long enough that only the kick can explain a connect
	gate := NewGate(store, conn, time.Hour, discardLogger())
	go gate.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	store.SetToken("tok")
	require.Eventually(t, conn.Active, time.Second, 5*time.Millisecond)

	conn.Disconnect()
	gate.Kick()
	require.Eventually(t, conn.Active, time.Second, 5*time.Millisecond)
}
