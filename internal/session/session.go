// Package session issues and validates administrator sessions. A session is
// a random server-side handle in the ephemeral store whose payload is a
// signed token; deleting the handle revokes the session even though the token
// itself would still verify until its embedded expiry.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/redis/go-redis/v9"
)

const (
	// TokenTTL is the absolute session lifetime embedded in the signed token
	// and used as the initial store TTL.
	TokenTTL = 24 * time.Hour
	// RenewalWindow is how far each successful validation pushes the store
	// TTL forward. Renewal never touches the token's own 24h ceiling.
	RenewalWindow = 30 * time.Minute

	keyPrefix = "session:"
)

// ErrInvalid is returned for any session that cannot be validated: unknown
// handle, expired or tampered token, or mismatched identity.
var ErrInvalid = errors.New("invalid session")

// Identity is the authenticated administrator bound to a session.
type Identity struct {
	UserID   uint
	Username string
}

// tokenPayload is what gets signed into the fernet token.
type tokenPayload struct {
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// storedSession is the record kept under the session handle. The user id is
// duplicated outside the token so validation can cross-check the two.
type storedSession struct {
	UserID uint   `json:"user_id"`
	Token  string `json:"token"`
}

// Authority issues, validates and revokes admin sessions.
type Authority struct {
	rdb *redis.Client
	key *fernet.Key

	// tokenTTL is TokenTTL in production; swappable for tests.
	tokenTTL time.Duration
}

// NewAuthority creates an Authority from a base64-encoded fernet signing key.
func NewAuthority(rdb *redis.Client, signingKey string) (*Authority, error) {
	key, err := fernet.DecodeKey(signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session signing key: %w", err)
	}
	return &Authority{rdb: rdb, key: key, tokenTTL: TokenTTL}, nil
}

// GenerateSigningKey returns a fresh base64 fernet key for configuration.
func GenerateSigningKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}
	return k.Encode(), nil
}

// Issue creates a session for a user and returns the opaque session id along
// with the signed token.
func (a *Authority) Issue(ctx context.Context, userID uint, username string) (string, string, error) {
	payload, err := json.Marshal(tokenPayload{
		UserID:   userID,
		Username: username,
		IssuedAt: time.Now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode session payload: %w", err)
	}

	token, err := fernet.EncryptAndSign(payload, a.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign session token: %w", err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate session id: %w", err)
	}
	sessionID := hex.EncodeToString(b)

	record, err := json.Marshal(storedSession{UserID: userID, Token: string(token)})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode session record: %w", err)
	}

	if err := a.rdb.Set(ctx, keyPrefix+sessionID, record, a.tokenTTL).Err(); err != nil {
		return "", "", fmt.Errorf("failed to store session: %w", err)
	}

	return sessionID, string(token), nil
}

// Validate resolves a session id to its identity. It re-verifies the stored
// token against the 24h ceiling, cross-checks the token's user id against the
// stored one, and on success slides the store TTL forward by RenewalWindow.
// The slide only ever extends the TTL, so a fresh session keeps its full
// initial lifetime.
func (a *Authority) Validate(ctx context.Context, sessionID string) (*Identity, error) {
	raw, err := a.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var record storedSession
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, ErrInvalid
	}

	msg := fernet.VerifyAndDecrypt([]byte(record.Token), a.tokenTTL, []*fernet.Key{a.key})
	if msg == nil {
		return nil, ErrInvalid
	}

	var payload tokenPayload
	if err := json.Unmarshal(msg, &payload); err != nil {
		return nil, ErrInvalid
	}
	if payload.UserID != record.UserID {
		return nil, ErrInvalid
	}

	// Best effort: a failed slide does not invalidate the session.
	a.rdb.ExpireGT(ctx, keyPrefix+sessionID, RenewalWindow)

	return &Identity{UserID: payload.UserID, Username: payload.Username}, nil
}

// Revoke deletes the stored session. Revoking a session that does not exist
// is a no-op.
func (a *Authority) Revoke(ctx context.Context, sessionID string) error {
	if err := a.rdb.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
