// Package session reads the persistent session owned by the auth
// collaborator and decides whether a realtime connection should exist.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sync-client/internal/models"
)

// Keys names the storage slots of the session store. The access token
// historically lived under two different key names; Token checks both.
type Keys struct {
	Token       string
	LegacyToken string
	Refresh     string
	Profile     string
}

func DefaultKeys() Keys {
	return Keys{
		Token:       "accessToken",
		LegacyToken: "token",
		Refresh:     "refreshToken",
		Profile:     "user",
	}
}

// Store is the persistent session collaborator: access and refresh tokens
// plus the cached profile of the signed-in user. The sync core only reads
// it; writes come from the auth layer (and tests).
type Store interface {
	// Token returns the current access token, checking the primary key
	// first and the legacy key second.
	Token(ctx context.Context) (string, bool)
	RefreshToken(ctx context.Context) (string, bool)
	Profile(ctx context.Context) (*models.UserRef, bool)

	// Watch delivers a signal whenever the session changes: login, logout,
	// or another client of the same user writing the store. The channel is
	// closed when ctx ends.
	Watch(ctx context.Context) <-chan struct{}
}

// TokenValid reports whether tok should be treated as usable. A JWT with an
// expired exp claim is rejected locally; an opaque non-JWT token passes,
// since only the server can judge it.
func TokenValid(tok string) bool {
	if tok == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.After(time.Now())
}
