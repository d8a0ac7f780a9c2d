// Package queue admits validated submissions and dispatches them one at a
// time, posting to every selected site concurrently.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/abdulachik/multipost/internal/broadcast"
	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

var (
	// ErrAlreadyQueued is returned when the submission already has an active entry.
	ErrAlreadyQueued = errors.New("submission already queued")
	// ErrEntryNotFound is returned for unknown entry ids.
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrRunning is returned when Run is called on a queue that is already running.
	ErrRunning = errors.New("queue already running")
)

// ValidationError rejects a submission that still has problems.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "submission has problems: " + strings.Join(e.Problems, "; ")
}

// Registry resolves adapters and formatted content.
type Registry interface {
	Get(id string) (website.Handle, error)
	FormatContent(sub *submission.Submission, site string) (website.Content, error)
}

// Validator computes submission problems.
type Validator interface {
	Validate(sub *submission.Submission) []string
	ValidateSites(sub *submission.Submission, sites []string) []string
}

// SubmissionWriter persists the queued flag and problems of a submission.
type SubmissionWriter interface {
	SetQueued(ctx context.Context, id string, queued bool) error
	SetProblems(ctx context.Context, id string, problems []string) error
}

// Recorder keeps the history of finished entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Notifier announces finished entries.
type Notifier interface {
	Notify(ctx context.Context, e Entry) error
}

// Config holds the queue collaborators. Registry and Validator are required.
type Config struct {
	Registry    Registry
	Validator   Validator
	Submissions SubmissionWriter
	Recorder    Recorder
	Notifier    Notifier
}

// Queue is the FIFO post queue and its dispatcher.
type Queue struct {
	registry    Registry
	validator   Validator
	submissions SubmissionWriter
	recorder    Recorder
	notifier    Notifier

	admit   sync.Mutex
	mu      sync.Mutex
	entries []*Entry
	wake    chan struct{}
	changes *broadcast.Latest[[]Entry]
	running atomic.Bool
}

// New creates a queue.
func New(cfg Config) *Queue {
	return &Queue{
		registry:    cfg.Registry,
		validator:   cfg.Validator,
		submissions: cfg.Submissions,
		recorder:    cfg.Recorder,
		notifier:    cfg.Notifier,
		wake:        make(chan struct{}, 1),
		changes:     broadcast.New[[]Entry](),
	}
}

// Validate returns the current problems of sub.
func (q *Queue) Validate(sub *submission.Submission) []string {
	return q.validator.Validate(sub)
}

// Enqueue admits sub for every selected site. A submission with problems is
// rejected with *ValidationError and no entry is created. The stored problems
// of sub are updated when they changed.
func (q *Queue) Enqueue(ctx context.Context, sub *submission.Submission) (*Entry, error) {
	problems := q.validator.Validate(sub)
	if !slices.Equal(sub.Problems, problems) {
		q.storeProblems(ctx, sub.ID, problems)
	}
	sub.Problems = problems
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return q.admitEntry(ctx, sub, uniqueSites(sub.Websites()))
}

// Requeue admits sub again for the given sites only, typically the failed
// sites of a finished entry.
func (q *Queue) Requeue(ctx context.Context, sub *submission.Submission, sites []string) (*Entry, error) {
	sites = uniqueSites(sites)
	problems := q.validator.ValidateSites(sub, sites)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return q.admitEntry(ctx, sub, sites)
}

func (q *Queue) storeProblems(ctx context.Context, id string, problems []string) {
	if q.submissions == nil {
		return
	}
	if err := q.submissions.SetProblems(ctx, id, problems); err != nil {
		slog.Error("failed to store problems", "submission", id, "error", err)
	}
}

func (q *Queue) admitEntry(ctx context.Context, sub *submission.Submission, sites []string) (*Entry, error) {
	q.admit.Lock()
	defer q.admit.Unlock()

	q.mu.Lock()
	for _, e := range q.entries {
		if e.SubmissionID == sub.ID && !e.Status.Terminal() {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, sub.ID)
		}
	}
	q.mu.Unlock()

	if q.submissions != nil {
		if err := q.submissions.SetQueued(ctx, sub.ID, true); err != nil {
			return nil, fmt.Errorf("mark queued: %w", err)
		}
	}
	sub.Queued = true

	e := &Entry{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Title:        sub.Title,
		Sites:        sites,
		Status:       StatusPending,
		Results:      map[string]SiteResult{},
		EnqueuedAt:   time.Now().UTC(),
		sub:          sub,
	}

	q.mu.Lock()
	// A finished entry of the same submission is acknowledged by the new one.
	q.entries = removeWhere(q.entries, func(old *Entry) bool {
		return old.SubmissionID == sub.ID && old.Status.Terminal()
	})
	q.entries = append(q.entries, e)
	snap := e.clone()
	q.publishLocked()
	q.mu.Unlock()

	q.signal()

	slog.Info("submission queued", "entry", e.ID, "submission", sub.ID, "sites", sites)
	return &snap, nil
}

// Dequeue removes a pending or finished entry. A posting entry is flagged
// for cancellation instead; it ends CANCELLED once its in-flight posts return.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	// Held until the queued flag is cleared, so a concurrent admission of the
	// same submission cannot have its flag overwritten.
	q.admit.Lock()
	defer q.admit.Unlock()

	q.mu.Lock()
	var target *Entry
	for _, e := range q.entries {
		if e.ID == id {
			target = e
			break
		}
	}
	if target == nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	release := q.cancelLocked(target)
	q.publishLocked()
	q.mu.Unlock()

	if release == nil {
		return nil
	}
	return q.releaseSubmission(ctx, release)
}

// CancelAll dequeues every entry.
func (q *Queue) CancelAll(ctx context.Context) error {
	q.admit.Lock()
	defer q.admit.Unlock()

	q.mu.Lock()
	var released []*submission.Submission
	for _, e := range append([]*Entry(nil), q.entries...) {
		if sub := q.cancelLocked(e); sub != nil {
			released = append(released, sub)
		}
	}
	q.publishLocked()
	q.mu.Unlock()

	var errs []error
	for _, sub := range released {
		if err := q.releaseSubmission(ctx, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cancelLocked removes e, or flags it when posting. It returns the submission
// whose queued flag must be cleared.
func (q *Queue) cancelLocked(e *Entry) *submission.Submission {
	if e.Status == StatusPosting {
		if !e.CancelRequested {
			e.CancelRequested = true
			close(e.cancel)
			slog.Info("cancelling posting entry", "entry", e.ID)
		}
		return nil
	}

	q.entries = removeWhere(q.entries, func(x *Entry) bool { return x == e })
	return e.sub
}

func (q *Queue) releaseSubmission(ctx context.Context, sub *submission.Submission) error {
	sub.Queued = false
	if q.submissions == nil {
		return nil
	}
	if err := q.submissions.SetQueued(ctx, sub.ID, false); err != nil {
		slog.Error("failed to clear queued flag", "submission", sub.ID, "error", err)
		return fmt.Errorf("clear queued flag: %w", err)
	}
	return nil
}

// Snapshot returns a copy of every entry in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns a copy of one entry.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// Subscribe returns a stream of queue snapshots, primed with the current one.
// Slow readers only see the latest snapshot.
func (q *Queue) Subscribe() (<-chan []Entry, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changes.Subscribe(q.snapshotLocked())
}

// Wait blocks until the entry reaches a terminal status and returns it.
func (q *Queue) Wait(ctx context.Context, id string) (Entry, error) {
	ch, cancel := q.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
			}
			found := false
			for _, e := range snap {
				if e.ID != id {
					continue
				}
				found = true
				if e.Status.Terminal() {
					return e, nil
				}
			}
			if !found {
				return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
			}
		}
	}
}

func (q *Queue) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.clone())
	}
	return out
}

func (q *Queue) publishLocked() {
	q.changes.Publish(q.snapshotLocked())
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func uniqueSites(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func removeWhere(entries []*Entry, drop func(*Entry) bool) []*Entry {
	out := entries[:0]
	for _, e := range entries {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}
