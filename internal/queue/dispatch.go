package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/abdulachik/multipost/internal/website"
)

// Run dispatches pending entries in FIFO order until ctx is done. Only one
// entry is posted at a time.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer q.running.Store(false)

	slog.Info("post queue started")
	for {
		e := q.next()
		if e == nil {
			select {
			case <-ctx.Done():
				slog.Info("post queue shutting down")
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}
		q.dispatch(ctx, e)
	}
}

// next moves the oldest pending entry to POSTING.
func (q *Queue) next() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.Status != StatusPending {
			continue
		}
		e.Status = StatusPosting
		e.StartedAt = time.Now().UTC()
		e.cancel = make(chan struct{})
		q.publishLocked()
		return e
	}
	return nil
}

// dispatch posts to every site of e concurrently and records the outcome.
func (q *Queue) dispatch(ctx context.Context, e *Entry) {
	slog.Info("posting submission",
		"entry", e.ID,
		"submission", e.SubmissionID,
		"sites", e.Sites,
	)

	results := make(map[string]SiteResult, len(e.Sites))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, site := range e.Sites {
		wg.Add(1)
		go func(site string) {
			defer wg.Done()

			res := q.postSite(ctx, e, site)

			mu.Lock()
			results[site] = res
			mu.Unlock()

			q.progress(e, site, res)
		}(site)
	}
	wg.Wait()

	q.finish(ctx, e, results)
}

// postSite runs one adapter. Failures, panics included, become a failed result.
func (q *Queue) postSite(ctx context.Context, e *Entry, site string) (res SiteResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("adapter panicked",
				"site", site,
				"entry", e.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = SiteResult{Kind: website.KindProtocol, Message: fmt.Sprintf("adapter panic: %v", r)}
		}
		res.FinishedAt = time.Now().UTC()
	}()

	sub := e.sub
	profile := sub.LoginProfile()

	h, err := q.registry.Get(site)
	if err != nil {
		return failure(website.Classify(site, err))
	}

	// A logged out probe may be a network blip, so stored credentials are kept.
	if status := h.CheckStatus(ctx, profile); status.Status != website.LoggedIn {
		return failure(&website.PostError{Site: site, Kind: website.KindAuth, Message: "Not logged in"})
	}

	content, err := q.registry.FormatContent(sub, site)
	if err != nil {
		return failure(website.Classify(site, err))
	}

	data := website.PostData{
		Title:       sub.Title,
		Tags:        content.Tags,
		Description: content.Description,
		Rating:      sub.Rating,
		Type:        sub.Type,
		Options:     sub.SiteForm(site).Options,
		Primary:     sub.Primary,
		Additional:  sub.Additional,
		ProfileID:   profile,
	}.WithCancel(e.cancel)

	result, err := h.Post(ctx, sub, data)
	if err != nil {
		pe := website.Classify(site, err)
		slog.Warn("post failed",
			"site", site,
			"entry", e.ID,
			"kind", pe.Kind,
			"error", pe,
		)
		if pe.Kind == website.KindAuth {
			q.unauthorize(ctx, h, site, profile)
		}
		return failure(pe)
	}

	res = SiteResult{OK: true}
	if result != nil {
		res.PostID = result.PostID
		res.PostURL = result.PostURL
	}
	slog.Info("posted", "site", site, "entry", e.ID, "url", res.PostURL)
	return res
}

func (q *Queue) unauthorize(ctx context.Context, h website.Handle, site, profile string) {
	u, ok := h.Website.(website.Unauthorizer)
	if !ok {
		return
	}
	if err := u.Unauthorize(ctx, profile); err != nil {
		slog.Error("unauthorize failed", "site", site, "profile", profile, "error", err)
		return
	}
	slog.Info("credentials cleared after auth failure", "site", site, "profile", profile)
}

func failure(pe *website.PostError) SiteResult {
	msg := pe.Message
	if pe.Err != nil {
		msg = fmt.Sprintf("%s: %v", pe.Message, pe.Err)
	}
	return SiteResult{Kind: pe.Kind, Message: msg, Payload: pe.Payload}
}

// progress exposes a finished site while the rest are still posting.
func (q *Queue) progress(e *Entry, site string, res SiteResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.CancelRequested {
		return
	}
	e.Results[site] = res
	q.publishLocked()
}

// finish sets the terminal status. Results of a cancelled entry are dropped.
func (q *Queue) finish(ctx context.Context, e *Entry, results map[string]SiteResult) {
	q.mu.Lock()
	e.FinishedAt = time.Now().UTC()
	if e.CancelRequested {
		e.Status = StatusCancelled
		e.Results = map[string]SiteResult{}
	} else {
		e.Status = aggregate(results)
		e.Results = results
	}
	snap := e.clone()
	q.publishLocked()
	q.mu.Unlock()

	slog.Info("submission finished",
		"entry", snap.ID,
		"submission", snap.SubmissionID,
		"status", snap.Status,
		"failed", snap.FailedSites(),
	)

	if q.recorder != nil {
		if err := q.recorder.Record(ctx, snap); err != nil {
			slog.Error("failed to record post history", "entry", snap.ID, "error", err)
		}
	}
	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, snap); err != nil {
			slog.Error("failed to send notification", "entry", snap.ID, "error", err)
		}
	}
}
