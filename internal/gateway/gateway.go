// Package gateway composes the admission pipeline for the lookup endpoint:
// format validation, credential resolution, quota and rate checks, the
// upstream call, and the audit trail.
package gateway

import (
	"errors"
	"log/slog"
	"regexp"
	"time"

	"numgate/internal/credential"
	"numgate/internal/db"
	"numgate/internal/model"
	"numgate/internal/quota"
	"numgate/internal/ratelimit"
	"numgate/internal/upstream"
	"numgate/internal/usage"

	"github.com/gin-gonic/gin"
)

// subjectPattern is the accepted subject format: exactly 10 digits with a
// leading 6-9 (regional mobile-number format).
var subjectPattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// Meta accompanies every successful lookup response.
type Meta struct {
	Query       string `json:"query"`
	Results     int    `json:"results"`
	ProcessedAt string `json:"processed_at"`
}

// SuccessResponse is the body of an admitted lookup.
type SuccessResponse struct {
	Success bool              `json:"success"`
	Data    []upstream.Result `json:"data"`
	Meta    Meta              `json:"meta"`
}

// Handler runs the end-to-end lookup pipeline.
type Handler struct {
	db       db.Service
	ledger   *quota.Ledger
	limiter  *ratelimit.Limiter
	recorder *usage.Recorder
	upstream *upstream.Client
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewHandler wires the pipeline together.
func NewHandler(dbService db.Service, ledger *quota.Ledger, limiter *ratelimit.Limiter, recorder *usage.Recorder, upstreamClient *upstream.Client, logger *slog.Logger) *Handler {
	return &Handler{
		db:       dbService,
		ledger:   ledger,
		limiter:  limiter,
		recorder: recorder,
		upstream: upstreamClient,
		logger:   logger.With("component", "gateway"),
		now:      time.Now,
	}
}

// Lookup handles GET /lookup?key=<secret>&number=<subject>.
func (h *Handler) Lookup(c *gin.Context) {
	start := h.now()
	subject := c.Query("number")
	secret := c.Query("key")

	// Format check comes before any credential or quota work so malformed
	// input never costs quota and never touches the store.
	if !subjectPattern.MatchString(subject) {
		h.reject(c, ReasonBadFormat)
		return
	}

	if secret == "" {
		h.reject(c, ReasonUnauthorized)
		return
	}

	key, err := h.db.ResolveAPIKeyByFingerprint(credential.Fingerprint(secret))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			// No key was resolved, so there is nothing to bind a usage
			// record to.
			h.reject(c, ReasonUnauthorized)
			return
		}
		h.logger.Error("Failed to resolve API key", "error", err)
		h.reject(c, ReasonInternal)
		return
	}

	now := h.now()

	switch h.ledger.Check(key, now) {
	case quota.Paused:
		h.finishRejected(c, key, subject, start, ReasonPaused)
		return
	case quota.Expired:
		h.finishRejected(c, key, subject, start, ReasonUnauthorized)
		return
	case quota.QuotaExceeded:
		h.finishRejected(c, key, subject, start, ReasonQuotaExceeded)
		return
	}

	allowed, err := h.limiter.Allow(c.Request.Context(), c.ClientIP(), now)
	if err != nil {
		// The limiter fails open; losing an admission check beats refusing
		// all traffic during a store outage.
		h.logger.Error("Rate limit check error", "error", err)
	}
	if !allowed {
		h.finishRejected(c, key, subject, start, ReasonRateLimited)
		return
	}

	results, err := h.upstream.Lookup(c.Request.Context(), subject)
	if err != nil {
		h.finishRejected(c, key, subject, start, ReasonUpstream)
		return
	}

	h.record(c, key, subject, start, model.OutcomeSuccess)

	if err := h.ledger.Consume(key.ID, h.now()); err != nil {
		// The caller already got their answer; a failed increment is a
		// server-side problem, not theirs.
		h.logger.Error("Failed to consume quota", "api_key_id", key.ID, "error", err)
	}

	c.JSON(200, SuccessResponse{
		Success: true,
		Data:    results,
		Meta: Meta{
			Query:       subject,
			Results:     len(results),
			ProcessedAt: h.now().UTC().Format(time.RFC3339),
		},
	})
}

// reject responds for failures where no key was resolved, so no usage record
// is written.
func (h *Handler) reject(c *gin.Context, reason Reason) {
	body := gin.H{"error": reason.Message()}
	c.JSON(reason.Status(), body)
}

// finishRejected writes the error usage record and responds. Quota and
// upstream rejections carry a retry hint.
func (h *Handler) finishRejected(c *gin.Context, key *model.APIKey, subject string, start time.Time, reason Reason) {
	h.record(c, key, subject, start, model.OutcomeError)

	body := gin.H{"error": reason.Message()}
	switch reason {
	case ReasonUpstream:
		body["retryAfter"] = upstream.RetryAfterSeconds
	case ReasonQuotaExceeded:
		body["retryAfter"] = secondsUntilNextDay(h.now())
	case ReasonRateLimited:
		body["retryAfter"] = secondsUntilNextHour(h.now())
	}
	c.JSON(reason.Status(), body)
}

// record enqueues one audit entry for the request.
func (h *Handler) record(c *gin.Context, key *model.APIKey, subject string, start time.Time, outcome string) {
	h.recorder.Record(model.UsageRecord{
		APIKeyID:  key.ID,
		Subject:   subject,
		LatencyMS: h.now().Sub(start).Milliseconds(),
		Outcome:   outcome,
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}

// secondsUntilNextDay is the retry hint for exhausted daily quotas.
func secondsUntilNextDay(now time.Time) int {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return int(next.Sub(now).Seconds())
}

// secondsUntilNextHour is the retry hint for the per-IP hourly ceiling, which
// resets at fixed hour boundaries.
func secondsUntilNextHour(now time.Time) int {
	next := now.Truncate(time.Hour).Add(time.Hour)
	return int(next.Sub(now).Seconds())
}
