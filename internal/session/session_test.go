package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthority(t *testing.T) (*Authority, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	signingKey, err := GenerateSigningKey()
	require.NoError(t, err)

	authority, err := NewAuthority(rdb, signingKey)
	require.NoError(t, err)
	return authority, mr
}

func TestNewAuthorityRejectsBadKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	_, err := NewAuthority(rdb, "not-a-fernet-key")
	assert.Error(t, err)
}

func TestIssueAndValidate(t *testing.T) {
	authority, _ := setupAuthority(t)
	ctx := context.Background()

	sessionID, token, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)
	assert.Len(t, sessionID, 64)
	assert.NotEmpty(t, token)

	identity, err := authority.Validate(ctx, sessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, identity.UserID)
	assert.Equal(t, "admin", identity.Username)
}

func TestValidateUnknownSession(t *testing.T) {
	authority, _ := setupAuthority(t)

	_, err := authority.Validate(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateTamperedRecord(t *testing.T) {
	authority, mr := setupAuthority(t)
	ctx := context.Background()

	sessionID, _, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)

	// Overwrite the stored payload with a forged token.
	require.NoError(t, mr.Set(keyPrefix+sessionID, `{"user_id":7,"token":"forged"}`))

	_, err = authority.Validate(ctx, sessionID)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateMismatchedUserID(t *testing.T) {
	authority, mr := setupAuthority(t)
	ctx := context.Background()

	sessionID, token, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)

	// Keep the genuine token but claim a different stored user: the
	// cross-check must fail.
	require.NoError(t, mr.Set(keyPrefix+sessionID, `{"user_id":8,"token":"`+token+`"}`))

	_, err = authority.Validate(ctx, sessionID)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateExpiredToken(t *testing.T) {
	authority, _ := setupAuthority(t)
	ctx := context.Background()

	sessionID, _, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)

	// Shrink the ceiling below the token's age. The store record is still
	// present, but the embedded token no longer verifies.
	authority.tokenTTL = time.Nanosecond
	time.Sleep(10 * time.Millisecond)

	_, err = authority.Validate(ctx, sessionID)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateSlidesStoreTTLOnlyUpward(t *testing.T) {
	authority, mr := setupAuthority(t)
	ctx := context.Background()

	sessionID, _, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)

	// Fresh session: TTL is near the full 24h, so a validation must not
	// shrink it to the renewal window.
	_, err = authority.Validate(ctx, sessionID)
	require.NoError(t, err)
	assert.Greater(t, mr.TTL(keyPrefix+sessionID), RenewalWindow)

	// Idle session close to eviction: validation tops the TTL back up.
	mr.SetTTL(keyPrefix+sessionID, time.Minute)
	_, err = authority.Validate(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, RenewalWindow, mr.TTL(keyPrefix+sessionID))
}

func TestRevoke(t *testing.T) {
	authority, _ := setupAuthority(t)
	ctx := context.Background()

	sessionID, _, err := authority.Issue(ctx, 7, "admin")
	require.NoError(t, err)

	require.NoError(t, authority.Revoke(ctx, sessionID))

	// Revocation is effective even though the token itself would still
	// verify: the store lookup is what grants access.
	_, err = authority.Validate(ctx, sessionID)
	assert.ErrorIs(t, err, ErrInvalid)

	// Revoking again is a no-op.
	assert.NoError(t, authority.Revoke(ctx, sessionID))
}

func TestGenerateSigningKeyRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	_, err = NewAuthority(rdb, key)
	assert.NoError(t, err)
}
