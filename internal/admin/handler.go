package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"numgate/internal/credential"
	"numgate/internal/db"
	"numgate/internal/model"
	"numgate/internal/session"

	"github.com/gin-gonic/gin"
)

// Handler serves the management API consumed by the admin console.
type Handler struct {
	db       db.Service
	sessions *session.Authority
	logger   *slog.Logger
}

func NewHandler(dbService db.Service, sessions *session.Authority, logger *slog.Logger) *Handler {
	return &Handler{
		db:       dbService,
		sessions: sessions,
		logger:   logger.With("component", "admin"),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

type createKeyRequest struct {
	UserID      uint   `json:"user_id" binding:"required"`
	Label       string `json:"label"`
	DailyBudget int    `json:"daily_budget"`
	ExpiresAt   string `json:"expires_at"` // RFC3339, empty = never
}

type updateKeyRequest struct {
	DailyBudget int    `json:"daily_budget" binding:"required,gt=0"`
	ExpiresAt   string `json:"expires_at"`
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// keyResponse is the externally visible shape of an API key. Neither the
// secret nor the fingerprint is ever included.
type keyResponse struct {
	ID            uint   `json:"id"`
	UserID        uint   `json:"user_id"`
	Label         string `json:"label"`
	Paused        bool   `json:"paused"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	DailyBudget   int    `json:"daily_budget"`
	DailyConsumed int    `json:"daily_consumed"`
	LastResetDay  string `json:"last_reset_day,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toKeyResponse(key *model.APIKey) keyResponse {
	resp := keyResponse{
		ID:            key.ID,
		UserID:        key.UserID,
		Label:         key.Label,
		Paused:        key.Paused,
		DailyBudget:   key.DailyBudget,
		DailyConsumed: key.DailyConsumed,
		LastResetDay:  key.LastResetDay,
		CreatedAt:     key.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !key.ExpiresAt.IsZero() {
		resp.ExpiresAt = key.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type userResponse struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Active:    user.Active,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// LoginHandler authenticates an administrator and issues a session cookie.
// Unknown users, wrong passwords and deactivated accounts all produce the
// same response.
func (h *Handler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.db.GetUserByUsername(req.Username)
	if err != nil {
		if !errors.Is(err, db.ErrUserNotFound) {
			h.logger.Error("Failed to load user for login", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !user.Active || !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sessionID, _, err := h.sessions.Issue(c.Request.Context(), user.ID, user.Username)
	if err != nil {
		h.logger.Error("Failed to issue session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.SetCookie(SessionCookie, sessionID, int(session.TokenTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged in", "username": user.Username})
}

// LogoutHandler revokes the current session.
func (h *Handler) LogoutHandler(c *gin.Context) {
	sessionID, err := c.Cookie(SessionCookie)
	if err == nil && sessionID != "" {
		if err := h.sessions.Revoke(c.Request.Context(), sessionID); err != nil {
			h.logger.Error("Failed to revoke session", "error", err)
		}
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ChangePasswordHandler updates the calling administrator's password after
// re-checking the old one.
func (h *Handler) ChangePasswordHandler(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.db.GetUser(identity.UserID)
	if err != nil {
		h.logger.Error("Failed to load user for password change", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if !CheckPassword(req.OldPassword, user.PasswordHash) {
		c.JSON(http.StatusForbidden, gin.H{"error": "old password does not match"})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if err := h.db.UpdateUserPassword(user.ID, hash); err != nil {
		h.logger.Error("Failed to update password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// CreateKeyHandler mints a new API key. The secret appears in this response
// and nowhere else, ever: only its fingerprint is stored.
func (h *Handler) CreateKeyHandler(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, err := h.db.GetUser(req.UserID); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user does not exist"})
			return
		}
		h.logger.Error("Failed to check key owner", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		expiresAt = parsed
	}

	budget := req.DailyBudget
	if budget <= 0 {
		budget = 100
	}

	secret, err := credential.GenerateSecret()
	if err != nil {
		h.logger.Error("Failed to generate secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	key := model.APIKey{
		Fingerprint: credential.Fingerprint(secret),
		UserID:      req.UserID,
		Label:       req.Label,
		DailyBudget: budget,
		ExpiresAt:   expiresAt,
	}
	if err := h.db.CreateAPIKey(&key); err != nil {
		h.logger.Error("Failed to create api key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":    toKeyResponse(&key),
		"secret": secret,
		"notice": "store this secret now, it will not be shown again",
	})
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	keys, err := h.db.ListAPIKeys()
	if err != nil {
		h.logger.Error("Failed to list api keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}

	resp := make([]keyResponse, len(keys))
	for i := range keys {
		resp[i] = toKeyResponse(&keys[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetKeyHandler(c *gin.Context) {
	id, ok := h.keyID(c)
	if !ok {
		return
	}
	key, err := h.db.GetAPIKey(id)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		h.logger.Error("Failed to get api key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, toKeyResponse(key))
}

func (h *Handler) PauseKeyHandler(c *gin.Context) {
	h.setKeyPaused(c, true, "Key paused")
}

func (h *Handler) ResumeKeyHandler(c *gin.Context) {
	h.setKeyPaused(c, false, "Key resumed")
}

func (h *Handler) setKeyPaused(c *gin.Context, paused bool, message string) {
	id, ok := h.keyID(c)
	if !ok {
		return
	}
	if err := h.db.SetAPIKeyPaused(id, paused); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		h.logger.Error("Failed to update pause flag", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *Handler) UpdateKeyHandler(c *gin.Context) {
	id, ok := h.keyID(c)
	if !ok {
		return
	}

	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		expiresAt = parsed
	}

	if err := h.db.UpdateAPIKeyLimits(id, req.DailyBudget, expiresAt); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		h.logger.Error("Failed to update key limits", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key updated"})
}

// RevokeKeyHandler soft-deletes a key: expiry forced into the past plus
// pause. The row is kept so usage records stay referentially intact.
func (h *Handler) RevokeKeyHandler(c *gin.Context) {
	id, ok := h.keyID(c)
	if !ok {
		return
	}
	if err := h.db.RevokeAPIKey(id, time.Now()); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		h.logger.Error("Failed to revoke key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked"})
}

func (h *Handler) CreateUserHandler(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	user := model.User{Username: req.Username, PasswordHash: hash, Active: true}
	if err := h.db.CreateUser(&user); err != nil {
		h.logger.Error("Failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, toUserResponse(&user))
}

func (h *Handler) ListUsersHandler(c *gin.Context) {
	users, err := h.db.ListUsers()
	if err != nil {
		h.logger.Error("Failed to list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}

	resp := make([]userResponse, len(users))
	for i := range users {
		resp[i] = toUserResponse(&users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ActivateUserHandler(c *gin.Context) {
	h.setUserActive(c, true, "User activated")
}

func (h *Handler) DeactivateUserHandler(c *gin.Context) {
	h.setUserActive(c, false, "User deactivated")
}

func (h *Handler) setUserActive(c *gin.Context, active bool, message string) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	if err := h.db.SetUserActive(uint(id), active); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to update user active flag", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// ListUsageHandler returns audit records filtered by an enumerated set of
// query parameters. Nothing here is assembled into free-form SQL.
func (h *Handler) ListUsageHandler(c *gin.Context) {
	var filter db.UsageFilter

	if keyID := c.Query("key_id"); keyID != "" {
		id, err := strconv.ParseUint(keyID, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key_id"})
			return
		}
		filter.APIKeyID = uint(id)
	}
	if outcome := c.Query("outcome"); outcome != "" {
		if outcome != model.OutcomeSuccess && outcome != model.OutcomeError {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid outcome"})
			return
		}
		filter.Outcome = outcome
	}
	if since := c.Query("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = parsed
	}
	if until := c.Query("until"); until != "" {
		parsed, err := time.Parse(time.RFC3339, until)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		filter.Until = parsed
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = n
	}

	records, err := h.db.ListUsageRecords(filter)
	if err != nil {
		h.logger.Error("Failed to list usage records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list usage"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) keyID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key id"})
		return 0, false
	}
	return uint(id), true
}
