package scheduler

import (
	"io"
	"testing"
	"time"

	"numgate/internal/config"
	"numgate/internal/db"
	"numgate/internal/logger"
	"numgate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) db.Service {
	t.Helper()
	service, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	return service
}

func TestRunPrune(t *testing.T) {
	service := setupService(t)
	gdb := service.GetDB()

	user := model.User{Username: "admin", PasswordHash: "x", Active: true}
	require.NoError(t, gdb.Create(&user).Error)
	key := model.APIKey{Fingerprint: "fp", UserID: user.ID, DailyBudget: 10}
	require.NoError(t, gdb.Create(&key).Error)

	old := model.UsageRecord{APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeSuccess}
	require.NoError(t, gdb.Create(&old).Error)
	require.NoError(t, gdb.Model(&old).Update("created_at", time.Now().AddDate(0, 0, -120)).Error)

	recent := model.UsageRecord{APIKeyID: key.ID, Subject: "9876543210", Outcome: model.OutcomeSuccess}
	require.NoError(t, gdb.Create(&recent).Error)

	sched := NewScheduler(service, 90, logger.NewWithWriter(io.Discard, false))
	sched.runPrune()

	var count int64
	gdb.Model(&model.UsageRecord{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestStartWithRetentionDisabled(t *testing.T) {
	service := setupService(t)
	sched := NewScheduler(service, 0, logger.NewWithWriter(io.Discard, false))
	assert.NoError(t, sched.Start())
	sched.Stop()
}

func TestStartAndStop(t *testing.T) {
	service := setupService(t)
	sched := NewScheduler(service, 30, logger.NewWithWriter(io.Discard, false))
	assert.NoError(t, sched.Start())
	sched.Stop()
}
