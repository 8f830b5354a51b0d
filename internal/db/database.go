package db

import (
	"errors"
	"fmt"
	"time"

	"numgate/internal/config"
	"numgate/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrKeyNotFound is returned when a fingerprint resolves to no usable key.
// A key owned by a deactivated user is deliberately indistinguishable from a
// key that does not exist.
var ErrKeyNotFound = errors.New("api key not found")

// ErrUserNotFound is returned when a user lookup finds nothing.
var ErrUserNotFound = errors.New("user not found")

// UsageFilter enumerates the allowed filters for usage listings. Only these
// fields are ever bound into the query; there is no free-form filtering.
type UsageFilter struct {
	APIKeyID uint
	Outcome  string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Service defines the store-of-record operations the gateway and the admin
// API depend on. It decouples callers from gorm and allows mocking in tests.
type Service interface {
	// Lookup path
	ResolveAPIKeyByFingerprint(fingerprint string) (*model.APIKey, error)
	ConsumeAPIKeyQuota(id uint, day string) error

	// Usage audit trail
	CreateUsageRecord(rec *model.UsageRecord) error
	ListUsageRecords(filter UsageFilter) ([]model.UsageRecord, error)
	PruneUsageRecords(before time.Time) (int64, error)

	// API key management
	CreateAPIKey(key *model.APIKey) error
	GetAPIKey(id uint) (*model.APIKey, error)
	ListAPIKeys() ([]model.APIKey, error)
	SetAPIKeyPaused(id uint, paused bool) error
	UpdateAPIKeyLimits(id uint, dailyBudget int, expiresAt time.Time) error
	RevokeAPIKey(id uint, now time.Time) error

	// User management
	CreateUser(user *model.User) error
	GetUser(id uint) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	ListUsers() ([]model.User, error)
	SetUserActive(id uint, active bool) error
	UpdateUserPassword(id uint, passwordHash string) error

	Ping() error
	GetDB() *gorm.DB
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg, migrates the schema and
// returns a Service backed by it.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.APIKey{}, &model.UsageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: db}, nil
}

// GetDB exposes the underlying gorm handle, mainly for tests.
func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Ping verifies the underlying connection is alive.
func (s *service) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ResolveAPIKeyByFingerprint loads the key for a fingerprint together with
// its owning user in a single query. It fails closed: unknown fingerprints
// and keys owned by deactivated users both return ErrKeyNotFound.
func (s *service) ResolveAPIKeyByFingerprint(fingerprint string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.Joins("User").Where("api_keys.fingerprint = ?", fingerprint).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if !key.User.Active {
		return nil, ErrKeyNotFound
	}
	return &key, nil
}

// ConsumeAPIKeyQuota advances the key's daily consumption by one unit in a
// single atomic statement. A request on a new calendar day resets consumption
// to 1; concurrent first-of-day requests cannot both observe the old day and
// undercount, because the rollover decision happens inside the UPDATE itself.
func (s *service) ConsumeAPIKeyQuota(id uint, day string) error {
	// Raw SQL pins the assignment order: MySQL applies SET clauses left to
	// right against already-updated values, so daily_consumed must read
	// last_reset_day before it is overwritten.
	result := s.db.Exec(
		"UPDATE api_keys SET daily_consumed = CASE WHEN last_reset_day = ? THEN daily_consumed + 1 ELSE 1 END, last_reset_day = ? WHERE id = ? AND deleted_at IS NULL",
		day, day, id,
	)
	if result.Error != nil {
		return fmt.Errorf("failed to consume quota for key %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// CreateUsageRecord appends one audit entry. Records are never updated or
// deleted on the request path.
func (s *service) CreateUsageRecord(rec *model.UsageRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// ListUsageRecords returns audit entries matching the filter, newest first.
func (s *service) ListUsageRecords(filter UsageFilter) ([]model.UsageRecord, error) {
	query := s.db.Model(&model.UsageRecord{})
	if filter.APIKeyID != 0 {
		query = query.Where("api_key_id = ?", filter.APIKeyID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at < ?", filter.Until)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var records []model.UsageRecord
	if err := query.Order("created_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// PruneUsageRecords hard-deletes audit entries older than the cutoff and
// returns how many were removed. Retention cleanup is the only path that
// ever deletes usage data.
func (s *service) PruneUsageRecords(before time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", before).Delete(&model.UsageRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *service) CreateAPIKey(key *model.APIKey) error {
	if err := s.db.Create(key).Error; err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *service) GetAPIKey(id uint) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.First(&key, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key %d: %w", id, err)
	}
	return &key, nil
}

func (s *service) ListAPIKeys() ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.Order("id asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (s *service) SetAPIKeyPaused(id uint, paused bool) error {
	result := s.db.Model(&model.APIKey{}).Where("id = ?", id).Update("paused", paused)
	if result.Error != nil {
		return fmt.Errorf("failed to update pause flag for key %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *service) UpdateAPIKeyLimits(id uint, dailyBudget int, expiresAt time.Time) error {
	result := s.db.Model(&model.APIKey{}).Where("id = ?", id).Updates(map[string]interface{}{
		"daily_budget": dailyBudget,
		"expires_at":   expiresAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update limits for key %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// RevokeAPIKey forces the key's expiry into the past and pauses it. This is
// the only supported form of deletion: the row stays so usage records keep a
// valid reference. Revoking an already revoked key is a no-op.
func (s *service) RevokeAPIKey(id uint, now time.Time) error {
	result := s.db.Model(&model.APIKey{}).Where("id = ?", id).Updates(map[string]interface{}{
		"paused":     true,
		"expires_at": now.Add(-time.Second),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to revoke api key %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *service) CreateUser(user *model.User) error {
	if err := s.db.Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *service) GetUser(id uint) (*model.User, error) {
	var user model.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (s *service) GetUserByUsername(username string) (*model.User, error) {
	var user model.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return &user, nil
}

func (s *service) ListUsers() ([]model.User, error) {
	var users []model.User
	if err := s.db.Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *service) SetUserActive(id uint, active bool) error {
	result := s.db.Model(&model.User{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update active flag for user %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *service) UpdateUserPassword(id uint, passwordHash string) error {
	result := s.db.Model(&model.User{}).Where("id = ?", id).Update("password_hash", passwordHash)
	if result.Error != nil {
		return fmt.Errorf("failed to update password for user %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
