package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/validation"
	"github.com/abdulachik/multipost/internal/website"
)

type postFunc func(ctx context.Context, data website.PostData) (*website.PostResult, error)

// fakeSite is a scriptable adapter.
type fakeSite struct {
	id        string
	loggedOut bool
	post      postFunc

	posts        atomic.Int32
	unauthorized atomic.Int32
}

func (f *fakeSite) ID() string { return f.id }

func (f *fakeSite) CheckStatus(ctx context.Context, profileID string) website.Status {
	if f.loggedOut {
		return website.Status{Status: website.LoggedOut}
	}
	return website.Status{Status: website.LoggedIn, Username: "alice"}
}

func (f *fakeSite) Validate(sub *submission.Submission, form submission.SiteForm) []website.Problem {
	return nil
}

func (f *fakeSite) Post(ctx context.Context, sub *submission.Submission, data website.PostData) (*website.PostResult, error) {
	f.posts.Add(1)
	if f.post == nil {
		return &website.PostResult{PostURL: "https://" + f.id + ".example/1"}, nil
	}
	return f.post(ctx, data)
}

func (f *fakeSite) Unauthorize(ctx context.Context, profileID string) error {
	f.unauthorized.Add(1)
	return nil
}

type fakeWriter struct {
	mu       sync.Mutex
	calls    map[string][]bool
	problems map[string][]string

	// release, when set, holds every queued=false write until closed.
	release  chan struct{}
	released chan struct{}
}

func (w *fakeWriter) SetQueued(ctx context.Context, id string, queued bool) error {
	if !queued && w.release != nil {
		w.released <- struct{}{}
		<-w.release
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = make(map[string][]bool)
	}
	w.calls[id] = append(w.calls[id], queued)
	return nil
}

func (w *fakeWriter) SetProblems(ctx context.Context, id string, problems []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.problems == nil {
		w.problems = make(map[string][]string)
	}
	w.problems[id] = append([]string(nil), problems...)
	return nil
}

func (w *fakeWriter) storedProblems(id string) ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.problems[id]
	return p, ok
}

func (w *fakeWriter) history(id string) []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]bool(nil), w.calls[id]...)
}

type entrySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *entrySink) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *entrySink) Notify(ctx context.Context, e Entry) error {
	return s.Record(ctx, e)
}

func (s *entrySink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

type harness struct {
	queue  *Queue
	writer *fakeWriter
	sink   *entrySink
}

func newHarness(t *testing.T, sites ...*fakeSite) *harness {
	t.Helper()

	entries := make([]website.Entry, 0, len(sites))
	for _, s := range sites {
		entries = append(entries, website.Entry{Adapter: s, Descriptor: website.Descriptor{ID: s.id}})
	}
	reg, err := website.NewRegistry(entries)
	require.NoError(t, err)

	h := &harness{writer: &fakeWriter{}, sink: &entrySink{}}
	h.queue = New(Config{
		Registry:    reg,
		Validator:   validation.New(reg),
		Submissions: h.writer,
		Recorder:    h.sink,
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.queue.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) wait(t *testing.T, id string) Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := h.queue.Wait(ctx, id)
	require.NoError(t, err)
	return e
}

func newSubmission(id string, sites ...string) *submission.Submission {
	return &submission.Submission{
		ID:      id,
		Title:   "title " + id,
		Rating:  submission.RatingGeneral,
		Type:    submission.TypeSubmission,
		Primary: &submission.File{Name: "a.png", Type: "image/png"},
		FormData: &submission.FormData{
			Websites:     sites,
			LoginProfile: "p1",
			Defaults: submission.SiteForm{
				Tags:        &submission.TagData{Tags: []string{"fox"}},
				Description: &submission.DescriptionData{Description: "hello"},
			},
		},
	}
}

func TestQueue_Enqueue_Rejected(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})

	sub := newSubmission("s1", "A")
	sub.Rating = ""

	entry, err := h.queue.Enqueue(context.Background(), sub)
	assert.Nil(t, entry)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{validation.ProblemRatingMissing}, verr.Problems)
	assert.Equal(t, verr.Problems, sub.Problems)

	assert.Empty(t, h.queue.Snapshot())
	assert.False(t, sub.Queued)
	assert.Empty(t, h.writer.history("s1"))

	stored, ok := h.writer.storedProblems("s1")
	require.True(t, ok)
	assert.Equal(t, []string{validation.ProblemRatingMissing}, stored)
}

func TestQueue_Enqueue_StoresProblems(t *testing.T) {
	t.Run("stale problems are cleared", func(t *testing.T) {
		h := newHarness(t, &fakeSite{id: "A"})
		sub := newSubmission("s1", "A")
		sub.Problems = []string{validation.ProblemRatingMissing}

		_, err := h.queue.Enqueue(context.Background(), sub)
		require.NoError(t, err)

		stored, ok := h.writer.storedProblems("s1")
		require.True(t, ok)
		assert.Empty(t, stored)
		assert.Empty(t, sub.Problems)
	})

	t.Run("unchanged problems are not written", func(t *testing.T) {
		h := newHarness(t, &fakeSite{id: "A"})
		sub := newSubmission("s1", "A")
		sub.Problems = []string{}

		_, err := h.queue.Enqueue(context.Background(), sub)
		require.NoError(t, err)

		_, ok := h.writer.storedProblems("s1")
		assert.False(t, ok)
	})
}

func TestQueue_Enqueue_AlreadyQueued(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})
	sub := newSubmission("s1", "A")

	entry, err := h.queue.Enqueue(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entry.Status)
	assert.True(t, sub.Queued)
	assert.Equal(t, []bool{true}, h.writer.history("s1"))

	_, err = h.queue.Enqueue(context.Background(), sub)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Len(t, h.queue.Snapshot(), 1)
}

func TestQueue_Dispatch_Success(t *testing.T) {
	var got website.PostData
	var mu sync.Mutex
	a := &fakeSite{id: "A", post: func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		mu.Lock()
		got = data
		mu.Unlock()
		return &website.PostResult{PostID: "1", PostURL: "https://a.example/1"}, nil
	}}
	h := newHarness(t, a, &fakeSite{id: "B"})
	h.run(t)

	entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A", "B"))
	require.NoError(t, err)

	done := h.wait(t, entry.ID)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.True(t, done.Results["A"].OK)
	assert.Equal(t, "https://a.example/1", done.Results["A"].PostURL)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.FinishedAt.IsZero())

	mu.Lock()
	assert.Equal(t, []string{"fox"}, got.Tags)
	assert.Equal(t, "hello", got.Description)
	assert.Equal(t, "p1", got.ProfileID)
	assert.Equal(t, "title s1", got.Title)
	mu.Unlock()

	require.Eventually(t, func() bool { return len(h.sink.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusSuccess, h.sink.all()[0].Status)
}

func TestQueue_Dispatch_PartialFailure(t *testing.T) {
	payload := `<html><div class="error">Rate limited</div></html>`
	c := &fakeSite{id: "C", post: func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		return nil, &website.PostError{Site: "C", Kind: website.KindProtocol, Message: "Unknown error", Payload: payload}
	}}
	h := newHarness(t, &fakeSite{id: "A"}, &fakeSite{id: "B"}, c)
	h.run(t)

	sub := newSubmission("s1", "A", "B", "C")
	entry, err := h.queue.Enqueue(context.Background(), sub)
	require.NoError(t, err)

	done := h.wait(t, entry.ID)
	assert.Equal(t, StatusPartialFailure, done.Status)
	require.Len(t, done.Results, 3)
	assert.False(t, done.Results["C"].OK)
	assert.Equal(t, website.KindProtocol, done.Results["C"].Kind)
	assert.Equal(t, payload, done.Results["C"].Payload)
	assert.Equal(t, []string{"C"}, done.FailedSites())
	assert.Empty(t, done.RetryableSites())

	t.Run("requeue failed sites only", func(t *testing.T) {
		c.post = nil
		retry, err := h.queue.Requeue(context.Background(), sub, done.FailedSites())
		require.NoError(t, err)
		assert.Equal(t, []string{"C"}, retry.Sites)

		final := h.wait(t, retry.ID)
		assert.Equal(t, StatusSuccess, final.Status)

		snap := h.queue.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, retry.ID, snap[0].ID)
	})
}

func TestQueue_Dispatch_AllFail(t *testing.T) {
	fail := func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		return nil, errors.New("boom")
	}
	h := newHarness(t, &fakeSite{id: "A", post: fail}, &fakeSite{id: "B", post: fail})
	h.run(t)

	entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A", "B"))
	require.NoError(t, err)

	done := h.wait(t, entry.ID)
	assert.Equal(t, StatusFailure, done.Status)
	assert.Equal(t, []string{"A", "B"}, done.FailedSites())
}

func TestQueue_Dispatch_CancelWhilePosting(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	succeed := func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		started <- struct{}{}
		<-release
		return &website.PostResult{}, nil
	}
	observe := func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		started <- struct{}{}
		<-release
		if err := data.Cancelled(); err != nil {
			return nil, err
		}
		return &website.PostResult{}, nil
	}

	h := newHarness(t, &fakeSite{id: "A", post: succeed}, &fakeSite{id: "B", post: observe})
	h.run(t)

	sub := newSubmission("s1", "A", "B")
	entry, err := h.queue.Enqueue(context.Background(), sub)
	require.NoError(t, err)

	<-started
	<-started

	posting, ok := h.queue.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPosting, posting.Status)

	require.NoError(t, h.queue.Dequeue(context.Background(), entry.ID))

	flagged, ok := h.queue.Get(entry.ID)
	require.True(t, ok)
	assert.True(t, flagged.CancelRequested)

	close(release)

	done := h.wait(t, entry.ID)
	assert.Equal(t, StatusCancelled, done.Status)
	assert.Empty(t, done.Results)

	// Acknowledging the cancelled entry clears it and the queued flag.
	require.NoError(t, h.queue.Dequeue(context.Background(), entry.ID))
	assert.Empty(t, h.queue.Snapshot())
	assert.False(t, sub.Queued)
	assert.Equal(t, []bool{true, false}, h.writer.history("s1"))
}

func TestQueue_Dequeue_Pending(t *testing.T) {
	a := &fakeSite{id: "A"}
	h := newHarness(t, a)

	sub := newSubmission("s1", "A")
	entry, err := h.queue.Enqueue(context.Background(), sub)
	require.NoError(t, err)

	require.NoError(t, h.queue.Dequeue(context.Background(), entry.ID))
	assert.Empty(t, h.queue.Snapshot())
	assert.False(t, sub.Queued)
	assert.Equal(t, []bool{true, false}, h.writer.history("s1"))
	assert.Zero(t, a.posts.Load())

	err = h.queue.Dequeue(context.Background(), entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestQueue_Dequeue_BlocksAdmission(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})
	ctx := context.Background()

	sub := newSubmission("s1", "A")
	entry, err := h.queue.Enqueue(ctx, sub)
	require.NoError(t, err)

	h.writer.release = make(chan struct{})
	h.writer.released = make(chan struct{}, 1)

	dequeued := make(chan error, 1)
	go func() { dequeued <- h.queue.Dequeue(ctx, entry.ID) }()
	<-h.writer.released

	enqueued := make(chan error, 1)
	go func() {
		_, err := h.queue.Enqueue(ctx, sub)
		enqueued <- err
	}()

	select {
	case err := <-enqueued:
		t.Fatalf("admitted while the queued flag was being cleared: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(h.writer.release)
	require.NoError(t, <-dequeued)
	require.NoError(t, <-enqueued)

	assert.Equal(t, []bool{true, false, true}, h.writer.history("s1"))
	assert.True(t, sub.Queued)
	assert.Len(t, h.queue.Snapshot(), 1)
}

func TestQueue_CancelAll(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})

	s1, s2 := newSubmission("s1", "A"), newSubmission("s2", "A")
	_, err := h.queue.Enqueue(context.Background(), s1)
	require.NoError(t, err)
	_, err = h.queue.Enqueue(context.Background(), s2)
	require.NoError(t, err)

	require.NoError(t, h.queue.CancelAll(context.Background()))
	assert.Empty(t, h.queue.Snapshot())
	assert.False(t, s1.Queued)
	assert.False(t, s2.Queued)
}

func TestQueue_FIFO(t *testing.T) {
	var (
		mu       sync.Mutex
		order    []string
		inflight atomic.Int32
		maxSeen  atomic.Int32
	)
	record := func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		order = append(order, data.Title)
		mu.Unlock()
		return &website.PostResult{}, nil
	}
	h := newHarness(t, &fakeSite{id: "A", post: record})

	var ids []string
	for _, id := range []string{"s1", "s2", "s3"} {
		e, err := h.queue.Enqueue(context.Background(), newSubmission(id, "A"))
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	h.run(t)
	for _, id := range ids {
		h.wait(t, id)
	}

	mu.Lock()
	assert.Equal(t, []string{"title s1", "title s2", "title s3"}, order)
	mu.Unlock()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestQueue_AuthFailure(t *testing.T) {
	t.Run("rejected session unauthorizes", func(t *testing.T) {
		a := &fakeSite{id: "A", post: func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
			return nil, &website.PostError{Site: "A", Kind: website.KindAuth, Message: "session expired"}
		}}
		h := newHarness(t, a)
		h.run(t)

		entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A"))
		require.NoError(t, err)

		done := h.wait(t, entry.ID)
		assert.Equal(t, StatusFailure, done.Status)
		assert.Equal(t, website.KindAuth, done.Results["A"].Kind)
		assert.Equal(t, int32(1), a.unauthorized.Load())
	})

	t.Run("logged out probe skips posting", func(t *testing.T) {
		a := &fakeSite{id: "A", loggedOut: true}
		h := newHarness(t, a)
		h.run(t)

		entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A"))
		require.NoError(t, err)

		done := h.wait(t, entry.ID)
		assert.Equal(t, StatusFailure, done.Status)
		assert.Equal(t, "Not logged in", done.Results["A"].Message)
		assert.Zero(t, a.posts.Load())
		assert.Zero(t, a.unauthorized.Load())
	})
}

func TestQueue_AdapterPanic(t *testing.T) {
	a := &fakeSite{id: "A", post: func(ctx context.Context, data website.PostData) (*website.PostResult, error) {
		panic("nil map")
	}}
	h := newHarness(t, a, &fakeSite{id: "B"})
	h.run(t)

	entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A", "B"))
	require.NoError(t, err)

	done := h.wait(t, entry.ID)
	assert.Equal(t, StatusPartialFailure, done.Status)
	assert.Contains(t, done.Results["A"].Message, "nil map")
}

func TestQueue_Subscribe(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})

	ch, cancel := h.queue.Subscribe()
	defer cancel()
	assert.Empty(t, <-ch)

	entry, err := h.queue.Enqueue(context.Background(), newSubmission("s1", "A"))
	require.NoError(t, err)

	snap := <-ch
	require.Len(t, snap, 1)
	assert.Equal(t, entry.ID, snap[0].ID)
	assert.Equal(t, StatusPending, snap[0].Status)

	h.run(t)
	require.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return len(snap) == 1 && snap[0].Status == StatusSuccess
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
}

func TestQueue_RunTwice(t *testing.T) {
	h := newHarness(t, &fakeSite{id: "A"})
	h.run(t)

	require.Eventually(t, func() bool { return h.queue.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.queue.Run(context.Background()), ErrRunning)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		results  map[string]SiteResult
		expected Status
	}{
		{"all ok", map[string]SiteResult{"A": {OK: true}, "B": {OK: true}}, StatusSuccess},
		{"some ok", map[string]SiteResult{"A": {OK: true}, "B": {}}, StatusPartialFailure},
		{"none ok", map[string]SiteResult{"A": {}, "B": {}}, StatusFailure},
		{"empty", map[string]SiteResult{}, StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, aggregate(tt.results))
		})
	}
}
