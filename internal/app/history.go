package app

import (
	"context"
	"sort"

	"github.com/abdulachik/multipost/internal/db"
	"github.com/abdulachik/multipost/internal/queue"
)

// AttemptWriter stores post history.
type AttemptWriter interface {
	RecordAttempts(ctx context.Context, attempts []db.Attempt) error
}

// HistoryRecorder records finished queue entries as post attempts.
type HistoryRecorder struct {
	store AttemptWriter
}

// NewHistoryRecorder creates a recorder writing to store.
func NewHistoryRecorder(store AttemptWriter) *HistoryRecorder {
	return &HistoryRecorder{store: store}
}

// Record stores one attempt per site result. Cancelled entries carry no
// results and record nothing.
func (r *HistoryRecorder) Record(ctx context.Context, e queue.Entry) error {
	return r.store.RecordAttempts(ctx, Attempts(e))
}

// Attempts converts the results of an entry, ordered by site.
func Attempts(e queue.Entry) []db.Attempt {
	sites := make([]string, 0, len(e.Results))
	for site := range e.Results {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	attempts := make([]db.Attempt, 0, len(sites))
	for _, site := range sites {
		res := e.Results[site]
		attempts = append(attempts, db.Attempt{
			EntryID:      e.ID,
			SubmissionID: e.SubmissionID,
			Site:         site,
			OK:           res.OK,
			Kind:         string(res.Kind),
			Message:      res.Message,
			Payload:      res.Payload,
			PostID:       res.PostID,
			PostURL:      res.PostURL,
			CreatedAt:    res.FinishedAt,
		})
	}
	return attempts
}
