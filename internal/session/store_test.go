package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-client/internal/models"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestTokenValid(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty", "", false},
		{"opaque", "not-a-jwt-at-all", true},
		{"expired jwt", signedJWT(t, time.Now().Add(-time.Hour)), false},
		{"live jwt", signedJWT(t, time.Now().Add(time.Hour)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenValid(tt.token))
		})
	}
}

func TestMemoryStoreLegacyKeyFallback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultKeys())

	_, ok := s.Token(ctx)
	assert.False(t, ok)

	// only the legacy key name is populated
	s.SetLegacyToken("legacy-token")
	tok, ok := s.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "legacy-token", tok)

	// the primary key wins when both exist
	s.SetToken("primary-token")
	tok, ok = s.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "primary-token", tok)
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultKeys())
	s.SetToken("tok")
	s.SetRefreshToken("refresh")
	s.SetProfile(&models.UserRef{ID: "u1", Username: "ana"})

	s.Clear()

	_, ok := s.Token(ctx)
	assert.False(t, ok)
	_, ok = s.RefreshToken(ctx)
	assert.False(t, ok)
	_, ok = s.Profile(ctx)
	assert.False(t, ok)
}

func TestMemoryStoreWatchSignalsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemoryStore(DefaultKeys())
	watch := s.Watch(ctx)

	s.SetToken("tok")

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal after SetToken")
	}
}
