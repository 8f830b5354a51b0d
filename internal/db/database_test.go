package db

import (
	"testing"
	"time"

	"numgate/internal/config"
	"numgate/internal/credential"
	"numgate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB creates a new in-memory SQLite database and returns a Service and the raw *gorm.DB.
func setupTestDB(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	service, err := NewService(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  "file::memory:",
	})
	if err != nil {
		t.Fatalf("Failed to create test db service: %v", err)
	}
	return service, service.GetDB()
}

func createTestUser(t *testing.T, db *gorm.DB, username string, active bool) model.User {
	t.Helper()
	user := model.User{Username: username, PasswordHash: "x", Active: active}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestNewService(t *testing.T) {
	service, err := NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	assert.NoError(t, err)
	assert.NotNil(t, service)

	_, err = NewService(config.DatabaseConfig{Type: "unsupported"})
	assert.Error(t, err)
}

func TestResolveAPIKeyByFingerprint(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "alice", true)

	fp := credential.Fingerprint("secret-1")
	require.NoError(t, db.Create(&model.APIKey{Fingerprint: fp, UserID: user.ID, DailyBudget: 10}).Error)

	key, err := service.ResolveAPIKeyByFingerprint(fp)
	assert.NoError(t, err)
	assert.Equal(t, user.ID, key.UserID)
	assert.Equal(t, "alice", key.User.Username)
	assert.Equal(t, 10, key.DailyBudget)
}

func TestResolveAPIKeyByFingerprintNotFound(t *testing.T) {
	service, _ := setupTestDB(t)

	_, err := service.ResolveAPIKeyByFingerprint(credential.Fingerprint("no-such-secret"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestResolveAPIKeyFailsClosedForInactiveOwner(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "bob", false)

	fp := credential.Fingerprint("secret-2")
	require.NoError(t, db.Create(&model.APIKey{Fingerprint: fp, UserID: user.ID, DailyBudget: 10}).Error)

	// A key owned by a deactivated user must look exactly like a missing key.
	_, err := service.ResolveAPIKeyByFingerprint(fp)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestConsumeAPIKeyQuotaSameDay(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "carol", true)

	key := model.APIKey{Fingerprint: "fp-1", UserID: user.ID, DailyBudget: 10, DailyConsumed: 3, LastResetDay: "2026-09-01"}
	require.NoError(t, db.Create(&key).Error)

	require.NoError(t, service.ConsumeAPIKeyQuota(key.ID, "2026-09-01"))

	var updated model.APIKey
	db.First(&updated, key.ID)
	assert.Equal(t, 4, updated.DailyConsumed)
	assert.Equal(t, "2026-09-01", updated.LastResetDay)
}

func TestConsumeAPIKeyQuotaDayRollover(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "dave", true)

	key := model.APIKey{Fingerprint: "fp-2", UserID: user.ID, DailyBudget: 10, DailyConsumed: 9, LastResetDay: "2026-08-31"}
	require.NoError(t, db.Create(&key).Error)

	// First call of a new day resets consumption and counts itself as 1,
	// regardless of the prior value.
	require.NoError(t, service.ConsumeAPIKeyQuota(key.ID, "2026-09-01"))

	var updated model.APIKey
	db.First(&updated, key.ID)
	assert.Equal(t, 1, updated.DailyConsumed)
	assert.Equal(t, "2026-09-01", updated.LastResetDay)
}

func TestConsumeAPIKeyQuotaFirstEverUse(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "erin", true)

	key := model.APIKey{Fingerprint: "fp-3", UserID: user.ID, DailyBudget: 5}
	require.NoError(t, db.Create(&key).Error)

	require.NoError(t, service.ConsumeAPIKeyQuota(key.ID, "2026-09-01"))

	var updated model.APIKey
	db.First(&updated, key.ID)
	assert.Equal(t, 1, updated.DailyConsumed)
}

func TestConsumeAPIKeyQuotaUnknownKey(t *testing.T) {
	service, _ := setupTestDB(t)
	assert.ErrorIs(t, service.ConsumeAPIKeyQuota(9999, "2026-09-01"), ErrKeyNotFound)
}

func TestRevokeAPIKey(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "frank", true)

	key := model.APIKey{Fingerprint: "fp-4", UserID: user.ID, DailyBudget: 10}
	require.NoError(t, db.Create(&key).Error)

	now := time.Now()
	require.NoError(t, service.RevokeAPIKey(key.ID, now))

	var updated model.APIKey
	db.First(&updated, key.ID)
	assert.True(t, updated.Paused)
	assert.True(t, updated.ExpiresAt.Before(now))

	// Revoking again is a no-op, not an error.
	assert.NoError(t, service.RevokeAPIKey(key.ID, now))

	// The row is still there: revocation is a soft delete.
	var count int64
	db.Model(&model.APIKey{}).Where("id = ?", key.ID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUsageRecords(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "grace", true)

	key := model.APIKey{Fingerprint: "fp-5", UserID: user.ID, DailyBudget: 10}
	require.NoError(t, db.Create(&key).Error)

	require.NoError(t, service.CreateUsageRecord(&model.UsageRecord{
		APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeSuccess, LatencyMS: 12,
	}))
	require.NoError(t, service.CreateUsageRecord(&model.UsageRecord{
		APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeError, LatencyMS: 40,
	}))

	all, err := service.ListUsageRecords(UsageFilter{APIKeyID: key.ID})
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := service.ListUsageRecords(UsageFilter{APIKeyID: key.ID, Outcome: model.OutcomeError})
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, int64(40), failed[0].LatencyMS)
}

func TestPruneUsageRecords(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "heidi", true)

	key := model.APIKey{Fingerprint: "fp-6", UserID: user.ID, DailyBudget: 10}
	require.NoError(t, db.Create(&key).Error)

	old := model.UsageRecord{APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeSuccess}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&old).Update("created_at", time.Now().AddDate(0, 0, -120)).Error)

	recent := model.UsageRecord{APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeSuccess}
	require.NoError(t, db.Create(&recent).Error)

	removed, err := service.PruneUsageRecords(time.Now().AddDate(0, 0, -90))
	assert.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	var count int64
	db.Model(&model.UsageRecord{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUserLifecycle(t *testing.T) {
	service, _ := setupTestDB(t)

	user := model.User{Username: "ivan", PasswordHash: "hash", Active: true}
	require.NoError(t, service.CreateUser(&user))

	loaded, err := service.GetUserByUsername("ivan")
	assert.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)

	require.NoError(t, service.SetUserActive(user.ID, false))
	loaded, err = service.GetUser(user.ID)
	assert.NoError(t, err)
	assert.False(t, loaded.Active)

	require.NoError(t, service.UpdateUserPassword(user.ID, "newhash"))
	loaded, _ = service.GetUser(user.ID)
	assert.Equal(t, "newhash", loaded.PasswordHash)

	_, err = service.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetAPIKeyPausedAndLimits(t *testing.T) {
	service, db := setupTestDB(t)
	user := createTestUser(t, db, "judy", true)

	key := model.APIKey{Fingerprint: "fp-7", UserID: user.ID, DailyBudget: 10}
	require.NoError(t, db.Create(&key).Error)

	require.NoError(t, service.SetAPIKeyPaused(key.ID, true))
	loaded, err := service.GetAPIKey(key.ID)
	assert.NoError(t, err)
	assert.True(t, loaded.Paused)

	expires := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	require.NoError(t, service.UpdateAPIKeyLimits(key.ID, 500, expires))
	loaded, _ = service.GetAPIKey(key.ID)
	assert.Equal(t, 500, loaded.DailyBudget)
	assert.WithinDuration(t, expires, loaded.ExpiresAt, time.Second)

	assert.ErrorIs(t, service.SetAPIKeyPaused(9999, true), ErrKeyNotFound)
}
