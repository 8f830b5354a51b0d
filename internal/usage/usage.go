// Package usage appends audit records for every admitted or rejected lookup.
package usage

import (
	"log/slog"
	"sync"

	"numgate/internal/db"
	"numgate/internal/model"
)

// Recorder writes usage records through a buffered queue so the request path
// never waits on the store. Writes are best effort: a full queue or a failed
// insert is logged and dropped, never surfaced to the caller.
type Recorder struct {
	db     db.Service
	logger *slog.Logger
	queue  chan model.UsageRecord
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewRecorder starts the background writer. Close must be called to drain it.
func NewRecorder(dbService db.Service, logger *slog.Logger) *Recorder {
	r := &Recorder{
		db:     dbService,
		logger: logger.With("component", "usage"),
		queue:  make(chan model.UsageRecord, 256),
	}
	r.wg.Add(1)
	go r.writer()
	return r
}

// Record enqueues one audit entry. It never blocks and never fails the
// request: if the queue is full the record is dropped with a log line.
func (r *Recorder) Record(rec model.UsageRecord) {
	select {
	case r.queue <- rec:
	default:
		r.logger.Error("Dropping usage record: queue is full",
			"api_key_id", rec.APIKeyID, "outcome", rec.Outcome)
	}
}

// writer drains the queue until Close.
func (r *Recorder) writer() {
	defer r.wg.Done()
	for rec := range r.queue {
		if err := r.db.CreateUsageRecord(&rec); err != nil {
			r.logger.Error("Failed to write usage record",
				"api_key_id", rec.APIKeyID, "outcome", rec.Outcome, "error", err)
		}
	}
}

// Close stops accepting records and waits for queued entries to be written.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}
