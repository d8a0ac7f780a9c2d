package queue

import (
	"sort"
	"time"

	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

// Status is the dispatch state of a queue entry.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPosting        Status = "POSTING"
	StatusSuccess        Status = "SUCCESS"
	StatusPartialFailure Status = "PARTIAL_FAILURE"
	StatusFailure        Status = "FAILURE"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartialFailure, StatusFailure, StatusCancelled:
		return true
	}
	return false
}

// SiteResult is the outcome of posting to one site.
type SiteResult struct {
	OK         bool              `json:"ok"`
	Kind       website.ErrorKind `json:"kind,omitempty"`
	Message    string            `json:"message,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	PostID     string            `json:"postId,omitempty"`
	PostURL    string            `json:"postUrl,omitempty"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Entry is one submission in the queue.
type Entry struct {
	ID              string                `json:"id"`
	SubmissionID    string                `json:"submissionId"`
	Title           string                `json:"title"`
	Sites           []string              `json:"sites"`
	Status          Status                `json:"status"`
	Results         map[string]SiteResult `json:"results"`
	EnqueuedAt      time.Time             `json:"enqueuedAt"`
	StartedAt       time.Time             `json:"startedAt,omitempty"`
	FinishedAt      time.Time             `json:"finishedAt,omitempty"`
	CancelRequested bool                  `json:"cancelRequested"`

	sub    *submission.Submission
	cancel chan struct{}
}

// FailedSites returns the sites whose post did not succeed, sorted.
func (e Entry) FailedSites() []string {
	var failed []string
	for site, r := range e.Results {
		if !r.OK {
			failed = append(failed, site)
		}
	}
	sort.Strings(failed)
	return failed
}

// RetryableSites returns the failed sites whose failure was a transport error.
func (e Entry) RetryableSites() []string {
	var sites []string
	for _, site := range e.FailedSites() {
		if e.Results[site].Kind == website.KindTransport {
			sites = append(sites, site)
		}
	}
	return sites
}

// clone returns a copy safe to hand out of the queue.
func (e *Entry) clone() Entry {
	c := *e
	c.sub = nil
	c.cancel = nil
	c.Sites = append([]string(nil), e.Sites...)
	c.Results = make(map[string]SiteResult, len(e.Results))
	for k, v := range e.Results {
		c.Results[k] = v
	}
	return c
}

// aggregate derives the terminal status from the per-site results.
func aggregate(results map[string]SiteResult) Status {
	var ok, failed int
	for _, r := range results {
		if r.OK {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case ok > 0 && failed == 0:
		return StatusSuccess
	case ok > 0:
		return StatusPartialFailure
	default:
		return StatusFailure
	}
}
