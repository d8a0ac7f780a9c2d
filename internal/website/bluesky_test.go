package website

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
)

func blueskySessions() *fakeSessions {
	s := newFakeSessions()
	s.data["p1/"+BlueskyID] = map[string]string{"handle": "alice.bsky.social", "appPassword": "app-pass"}
	return s
}

type blueskyServer struct {
	sessions atomic.Int32
	uploads  atomic.Int32
	status   int

	mu     sync.Mutex
	record createRecordRequest
}

func (b *blueskyServer) lastRecord() createRecordRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record
}

func (b *blueskyServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice.bsky.social", req.Identifier)
		assert.Equal(t, "app-pass", req.Password)
		b.sessions.Add(1)

		json.NewEncoder(w).Encode(createSessionResponse{
			DID:       "did:plc:test123",
			Handle:    "alice.bsky.social",
			AccessJwt: "jwt",
		})
	})
	mux.HandleFunc("POST /com.atproto.repo.uploadBlob", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		b.uploads.Add(1)
		w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"bafk"},"mimeType":"` +
			r.Header.Get("Content-Type") + `","size":` + strconv.Itoa(len(body)) + `}}`))
	})
	mux.HandleFunc("POST /com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		if b.status != 0 {
			w.WriteHeader(b.status)
			return
		}
		var req createRecordRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		b.mu.Lock()
		b.record = req
		b.mu.Unlock()
		json.NewEncoder(w).Encode(createRecordResponse{
			URI: "at://did:plc:test123/app.bsky.feed.post/rkey1",
			CID: "cid",
		})
	})
	return mux
}

func TestBluesky_CheckStatus(t *testing.T) {
	bs := &blueskyServer{}
	server := httptest.NewServer(bs.handler(t))
	defer server.Close()

	bsky := NewBluesky(BlueskyConfig{BaseURL: server.URL, Sessions: blueskySessions()})

	status := bsky.CheckStatus(context.Background(), "p1")
	assert.Equal(t, LoggedIn, status.Status)
	assert.Equal(t, "alice.bsky.social", status.Username)

	// Session is cached per profile.
	bsky.CheckStatus(context.Background(), "p1")
	assert.Equal(t, int32(1), bs.sessions.Load())

	assert.Equal(t, LoggedOut, bsky.CheckStatus(context.Background(), "other").Status)
}

func TestBluesky_Post(t *testing.T) {
	primary := submission.File{Name: "a.png", Type: "image/png", Buffer: []byte("png")}
	data := PostData{
		Title:       "Sketch",
		Tags:        []string{"fox", "art"},
		Description: "New sketch",
		Rating:      submission.RatingMature,
		Type:        submission.TypeSubmission,
		Primary:     &primary,
		ProfileID:   "p1",
	}

	t.Run("image post", func(t *testing.T) {
		bs := &blueskyServer{}
		server := httptest.NewServer(bs.handler(t))
		defer server.Close()

		bsky := NewBluesky(BlueskyConfig{BaseURL: server.URL, Sessions: blueskySessions()})
		result, err := bsky.Post(context.Background(), nil, data)
		require.NoError(t, err)

		assert.Equal(t, "at://did:plc:test123/app.bsky.feed.post/rkey1", result.PostID)
		assert.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/rkey1", result.PostURL)

		rec := bs.lastRecord()
		assert.Equal(t, "did:plc:test123", rec.Repo)
		assert.Equal(t, "New sketch\n\n#fox #art", rec.Record.Text)
		require.NotNil(t, rec.Record.Embed)
		require.Len(t, rec.Record.Embed.Images, 1)
		assert.Equal(t, "Sketch", rec.Record.Embed.Images[0].Alt)
		assert.Equal(t, "image/png", rec.Record.Embed.Images[0].Image.MimeType)
		require.NotNil(t, rec.Record.Labels)
		assert.Equal(t, "sexual", rec.Record.Labels.Values[0].Val)
	})

	t.Run("journal is text only", func(t *testing.T) {
		bs := &blueskyServer{}
		server := httptest.NewServer(bs.handler(t))
		defer server.Close()

		journal := data
		journal.Type = submission.TypeJournal
		journal.Rating = submission.RatingGeneral

		bsky := NewBluesky(BlueskyConfig{BaseURL: server.URL, Sessions: blueskySessions()})
		_, err := bsky.Post(context.Background(), nil, journal)
		require.NoError(t, err)

		assert.Zero(t, bs.uploads.Load())
		rec := bs.lastRecord()
		assert.Nil(t, rec.Record.Embed)
		assert.Nil(t, rec.Record.Labels)
	})

	t.Run("rejected session is forgotten", func(t *testing.T) {
		bs := &blueskyServer{status: http.StatusUnauthorized}
		server := httptest.NewServer(bs.handler(t))
		defer server.Close()

		bsky := NewBluesky(BlueskyConfig{BaseURL: server.URL, Sessions: blueskySessions()})
		_, err := bsky.Post(context.Background(), nil, data)
		assert.Equal(t, KindAuth, requirePostError(t, err).Kind)

		_, err = bsky.Post(context.Background(), nil, data)
		require.Error(t, err)
		assert.Equal(t, int32(2), bs.sessions.Load())
	})

	t.Run("no app password", func(t *testing.T) {
		bsky := NewBluesky(BlueskyConfig{BaseURL: "http://127.0.0.1:1", Sessions: newFakeSessions()})
		_, err := bsky.Post(context.Background(), nil, data)
		assert.Equal(t, KindAuth, requirePostError(t, err).Kind)
	})
}

func TestBluesky_Unauthorize(t *testing.T) {
	bs := &blueskyServer{}
	server := httptest.NewServer(bs.handler(t))
	defer server.Close()

	sessions := blueskySessions()
	bsky := NewBluesky(BlueskyConfig{BaseURL: server.URL, Sessions: sessions})

	bsky.CheckStatus(context.Background(), "p1")
	require.NoError(t, bsky.Unauthorize(context.Background(), "p1"))
	bsky.CheckStatus(context.Background(), "p1")
	assert.Equal(t, int32(2), bs.sessions.Load())

	data, err := sessions.Data(context.Background(), "p1", BlueskyID)
	require.NoError(t, err)
	assert.Equal(t, "app-pass", data["appPassword"])
}

func TestFitBlob(t *testing.T) {
	t.Run("small file untouched", func(t *testing.T) {
		f := submission.File{Type: "image/png", Buffer: []byte("tiny")}
		out, mime, err := fitBlob(f, 100)
		require.NoError(t, err)
		assert.Equal(t, []byte("tiny"), out)
		assert.Equal(t, "image/png", mime)
	})

	t.Run("large image downscaled", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		img := image.NewRGBA(image.Rect(0, 0, 300, 300))
		for y := 0; y < 300; y++ {
			for x := 0; x < 300; x++ {
				img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))

		limit := 40_000
		require.Greater(t, buf.Len(), limit)

		out, mime, err := fitBlob(submission.File{Type: "image/png", Buffer: buf.Bytes()}, limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(out), limit)
		assert.Equal(t, "image/jpeg", mime)
	})
}

func TestBlueskyText(t *testing.T) {
	t.Run("hashtags appended", func(t *testing.T) {
		assert.Equal(t, "hi\n\n#a", blueskyText(PostData{Description: "hi", Tags: []string{"a"}}))
	})

	t.Run("title when no description", func(t *testing.T) {
		assert.Equal(t, "Title", blueskyText(PostData{Title: "Title"}))
	})
}

func TestSplitURI(t *testing.T) {
	tests := []struct {
		uri      string
		expected []string
	}{
		{
			uri:      "at://did:plc:xyz/app.bsky.feed.post/abc123",
			expected: []string{"did:plc:xyz", "app.bsky.feed.post", "abc123"},
		},
		{
			uri:      "did:plc:xyz/collection/rkey",
			expected: []string{"did:plc:xyz", "collection", "rkey"},
		},
		{
			uri:      "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitURI(tt.uri))
		})
	}
}
