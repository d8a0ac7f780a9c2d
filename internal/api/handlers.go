package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abdulachik/multipost/internal/db"
	"github.com/abdulachik/multipost/internal/queue"
	"github.com/abdulachik/multipost/internal/scheduler"
	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

const maxAttempts = 500

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Healthy    bool                     `json:"healthy"`
		Components []scheduler.HealthStatus `json:"components"`
	}{Healthy: true, Components: []scheduler.HealthStatus{}}

	if s.cfg.Health != nil {
		resp.Healthy = s.cfg.Health.IsOverallHealthy()
		if snap := s.cfg.Health.Snapshot(); snap != nil {
			resp.Components = snap
		}
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, nonNil(s.cfg.Queue.Snapshot()))
}

// handleQueueEvents streams queue snapshots. Slow readers only see the latest.
func (s *Server) handleQueueEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.cfg.Queue.Subscribe()
	defer unsubscribe()
	stream(s, w, r, "queue", ch, nonNil[queue.Entry])
}

// handleSubmissionEvents streams the submission list after every change.
func (s *Server) handleSubmissionEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Changes == nil {
		s.respondError(w, http.StatusNotFound, "submission events unavailable")
		return
	}
	ch, unsubscribe, err := s.cfg.Changes.Changes(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	defer unsubscribe()
	stream(s, w, r, "submissions", ch, func(subs []*submission.Submission) []submissionSummary {
		out := make([]submissionSummary, 0, len(subs))
		for _, sub := range subs {
			out = append(out, summarize(sub))
		}
		return out
	})
}

// stream writes every value of ch as a server-sent event until the client
// goes away or ch closes.
func stream[T, P any](s *Server, w http.ResponseWriter, r *http.Request, event string, ch <-chan T, render func(T) P) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, event, render(v)); err != nil {
				s.logger.Debug("event stream closed", "event", event, "error", err)
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Queue.CancelAll(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.cfg.Queue.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondErr(w, queue.ErrEntryNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Queue.Dequeue(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submissionSummary is a submission without file contents.
type submissionSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Rating     string    `json:"rating"`
	Type       string    `json:"type"`
	Websites   []string  `json:"websites"`
	Problems   []string  `json:"problems"`
	Queued     bool      `json:"queued"`
	Postable   bool      `json:"postable"`
	Scheduled  bool      `json:"scheduled"`
	ScheduleAt time.Time `json:"scheduleAt,omitzero"`
	CreatedAt  time.Time `json:"createdAt"`
}

func summarize(sub *submission.Submission) submissionSummary {
	return submissionSummary{
		ID:         sub.ID,
		Title:      sub.Title,
		Rating:     string(sub.Rating),
		Type:       string(sub.Type),
		Websites:   nonNil(sub.Websites()),
		Problems:   nonNil(sub.Problems),
		Queued:     sub.Queued,
		Postable:   sub.Postable(),
		Scheduled:  sub.Scheduled,
		ScheduleAt: sub.ScheduleAt,
		CreatedAt:  sub.CreatedAt,
	}
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.cfg.Submissions.GetSubmissions(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	out := make([]submissionSummary, 0, len(subs))
	for _, sub := range subs {
		out = append(out, summarize(sub))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.cfg.Submissions.GetSubmission(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if sub.Queued {
		s.respondError(w, http.StatusConflict, "submission is queued")
		return
	}
	if err := s.cfg.Submissions.Delete(r.Context(), []string{id}); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	sub, err := s.cfg.Submissions.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	// The queue stores the problems it finds.
	entry, err := s.cfg.Queue.Enqueue(r.Context(), sub)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, entry)
}

type requeueRequest struct {
	Sites []string `json:"sites"`
	// Retryable limits the default to sites that failed on transport errors.
	Retryable bool `json:"retryable"`
}

// handleRequeue posts a submission again to the given sites, or to the sites
// that failed in its most recent finished entry.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sub, err := s.cfg.Submissions.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	sites := req.Sites
	if len(sites) == 0 {
		if last, ok := lastFinished(s.cfg.Queue.Snapshot(), sub.ID); ok {
			sites = last.FailedSites()
			if req.Retryable {
				sites = last.RetryableSites()
			}
		}
	}
	if len(sites) == 0 {
		s.respondError(w, http.StatusBadRequest, "no failed sites to requeue")
		return
	}

	entry, err := s.cfg.Queue.Requeue(r.Context(), sub, sites)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, entry)
}

// lastFinished returns the newest finished, non-cancelled entry of a submission.
func lastFinished(entries []queue.Entry, submissionID string) (queue.Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.SubmissionID == submissionID && e.Status.Terminal() && e.Status != queue.StatusCancelled {
			return e, true
		}
	}
	return queue.Entry{}, false
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	sub, err := s.cfg.Submissions.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	sub.Problems = s.cfg.Queue.Validate(sub)
	s.saveProblems(r, sub)
	s.respondJSON(w, http.StatusOK, map[string][]string{"problems": nonNil(sub.Problems)})
}

func (s *Server) saveProblems(r *http.Request, sub *submission.Submission) {
	if err := s.cfg.Submissions.UpdateSubmission(r.Context(), sub); err != nil {
		s.logger.Warn("failed to store problems", "submission", sub.ID, "error", err)
	}
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.respondJSON(w, http.StatusOK, []db.Attempt{})
		return
	}

	limit := uint64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxAttempts)
	}

	attempts, err := s.cfg.History.ListAttempts(r.Context(), db.AttemptFilter{
		SubmissionID: chi.URLParam(r, "id"),
		Site:         r.URL.Query().Get("site"),
	}, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(attempts))
}

// siteInfo is the serializable part of a descriptor.
type siteInfo struct {
	ID                   string   `json:"id"`
	DisplayName          string   `json:"displayName"`
	AcceptedFiles        []string `json:"acceptedFiles"`
	MaxAdditionalFiles   int      `json:"maxAdditionalFiles"`
	SupportsFolders      bool     `json:"supportsFolders"`
	SupportsJournal      bool     `json:"supportsJournal"`
	SupportsScheduling   bool     `json:"supportsScheduling"`
	LoginURL             string   `json:"loginUrl,omitempty"`
	LoginDialog          string   `json:"loginDialog,omitempty"`
	MaxDescriptionLength int      `json:"maxDescriptionLength,omitempty"`
	UsernameShortcut     string   `json:"usernameShortcut,omitempty"`
}

func describe(d website.Descriptor) siteInfo {
	info := siteInfo{
		ID:                   d.ID,
		DisplayName:          d.DisplayName,
		AcceptedFiles:        nonNil(d.AcceptedFiles),
		MaxAdditionalFiles:   d.MaxAdditionalFiles,
		SupportsFolders:      d.SupportsFolders,
		SupportsJournal:      d.SupportsJournal,
		SupportsScheduling:   d.SupportsScheduling,
		LoginURL:             d.Login.URL,
		LoginDialog:          d.Login.Dialog,
		MaxDescriptionLength: d.MaxDescriptionLength,
	}
	if d.UsernameShortcut != nil {
		info.UsernameShortcut = d.UsernameShortcut.Code
	}
	return info
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	descriptors := s.cfg.Sites.Descriptors()
	out := make([]siteInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, describe(d))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSiteStatus(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")
	if profile == "" {
		s.respondError(w, http.StatusBadRequest, "profile is required")
		return
	}
	h, err := s.cfg.Sites.Get(chi.URLParam(r, "site"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, h.CheckStatus(r.Context(), profile))
}

func (s *Server) handleSiteFolders(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")
	if profile == "" {
		s.respondError(w, http.StatusBadRequest, "profile is required")
		return
	}
	h, err := s.cfg.Sites.Get(chi.URLParam(r, "site"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	lister, ok := h.Website.(website.FolderLister)
	if !ok || !h.Descriptor.SupportsFolders {
		s.respondError(w, http.StatusNotFound, "site has no folders")
		return
	}
	folders, err := lister.Folders(r.Context(), profile)
	if err != nil {
		var perr *website.PostError
		if errors.As(err, &perr) {
			s.respondError(w, http.StatusBadGateway, perr.Error())
			return
		}
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(folders))
}

// nonNil keeps empty lists from encoding as null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
