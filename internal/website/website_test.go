package website

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
)

// fakeSessions is an in-memory Sessions.
type fakeSessions struct {
	mu      sync.Mutex
	cookies []*http.Cookie
	data    map[string]map[string]string
	hits    []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: make(map[string]map[string]string)}
}

func (f *fakeSessions) Cookies(ctx context.Context, profileID, baseURL string) ([]*http.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cookies == nil {
		return nil, errors.New("no cookies")
	}
	return f.cookies, nil
}

func (f *fakeSessions) Data(ctx context.Context, profileID, site string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[profileID+"/"+site], nil
}

func (f *fakeSessions) StoreData(ctx context.Context, profileID, site string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data == nil {
		delete(f.data, profileID+"/"+site)
		return nil
	}
	f.data[profileID+"/"+site] = data
	return nil
}

func (f *fakeSessions) HitURL(ctx context.Context, profileID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, url)
	return nil
}

func TestProblem_String(t *testing.T) {
	tests := []struct {
		problem  Problem
		expected string
	}{
		{Problem{Site: "Twitter (GIF)", Message: "Max file size", Value: "15MB"}, "Twitter (GIF): Max file size (15MB)"},
		{Problem{Site: "Weasyl", Message: "Missing file"}, "Weasyl: Missing file"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.problem.String())
		})
	}
}

func TestPostData_Cancelled(t *testing.T) {
	t.Run("no signal attached", func(t *testing.T) {
		assert.NoError(t, PostData{}.Cancelled())
	})

	t.Run("open signal", func(t *testing.T) {
		ch := make(chan struct{})
		assert.NoError(t, PostData{}.WithCancel(ch).Cancelled())
	})

	t.Run("closed signal", func(t *testing.T) {
		ch := make(chan struct{})
		close(ch)
		err := PostData{}.WithCancel(ch).Cancelled()
		assert.ErrorIs(t, err, ErrCancelled)
	})
}

func TestPostData_Files(t *testing.T) {
	primary := submission.File{Name: "a.png"}
	data := PostData{Primary: &primary, Additional: []submission.File{{Name: "b.png"}}}

	files := data.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "a.png", files[0].Name)
	assert.Equal(t, "b.png", files[1].Name)
}

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Classify("Weasyl", nil))
	})

	t.Run("post error kept", func(t *testing.T) {
		in := authError("Weasyl", "expired", []byte("<html>"))
		out := Classify("Weasyl", in)
		assert.Same(t, in, out)
		assert.Equal(t, KindAuth, out.Kind)
		assert.Equal(t, "<html>", out.Payload)
	})

	t.Run("cancellation", func(t *testing.T) {
		out := Classify("Weasyl", ErrCancelled)
		assert.Equal(t, KindCancelled, out.Kind)
	})

	t.Run("anything else is a protocol failure", func(t *testing.T) {
		out := Classify("Weasyl", errors.New("boom"))
		assert.Equal(t, KindProtocol, out.Kind)
		assert.Equal(t, "Weasyl", out.Site)
		assert.Contains(t, out.Error(), "boom")
	})
}

func TestTransportError(t *testing.T) {
	assert.Equal(t, KindCancelled, transportError("X", context.Canceled).Kind)

	timeout := transportError("X", context.DeadlineExceeded)
	assert.Equal(t, KindTransport, timeout.Kind)
	assert.Equal(t, "request timed out", timeout.Message)
	assert.True(t, timeout.Retryable())
}
