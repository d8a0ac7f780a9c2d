package website

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
)

const pillowfortNewPostPage = `<form action="/posts/create">
<input type="hidden" name="authenticity_token" value="csrf-token">
</form>`

func TestPillowfort_CheckStatus(t *testing.T) {
	t.Run("logged in", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<select><option value="current_user">alice</option></select><a href="/signout">Sign out</a>`))
		}))
		defer server.Close()

		sessions := cookieSessions()
		pf := NewPillowfort(PillowfortConfig{BaseURL: server.URL, Sessions: sessions})

		status := pf.CheckStatus(context.Background(), "p1")
		assert.Equal(t, LoggedIn, status.Status)
		assert.Equal(t, "alice", status.Username)
		assert.Equal(t, []string{server.URL}, sessions.hits)
	})

	t.Run("logged out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<a href="/users/sign_in">Sign in</a>`))
		}))
		defer server.Close()

		sessions := cookieSessions()
		pf := NewPillowfort(PillowfortConfig{BaseURL: server.URL, Sessions: sessions})

		assert.Equal(t, LoggedOut, pf.CheckStatus(context.Background(), "p1").Status)
		assert.Empty(t, sessions.hits)
	})
}

func TestPillowfort_Post(t *testing.T) {
	primary := submission.File{Name: "a.png", Type: "image/png", Buffer: []byte("a")}
	extra := submission.File{Name: "b.png", Type: "image/png", Buffer: []byte("b")}
	data := PostData{
		Title:       "Pics",
		Tags:        []string{"fox", "art"},
		Description: "hello",
		Rating:      submission.RatingMature,
		Type:        submission.TypeSubmission,
		Primary:     &primary,
		Additional:  []submission.File{extra},
		ProfileID:   "p1",
	}

	t.Run("picture post", func(t *testing.T) {
		var uploads atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /posts/new", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(pillowfortNewPostPage))
		})
		mux.HandleFunc("POST /image_upload", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "csrf-token", r.Header.Get("X-CSRF-Token"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			name := r.FormValue("file_name")
			uploads.Add(1)
			json.NewEncoder(w).Encode(pillowfortUpload{
				FullImage:  "https://img.example/" + name,
				SmallImage: "https://img.example/small/" + name,
			})
		})
		mux.HandleFunc("POST /posts/create", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "csrf-token", r.FormValue("authenticity_token"))
			assert.Equal(t, "picture", r.FormValue("post_type"))
			assert.Equal(t, "fox, art", r.FormValue("tags"))
			assert.Equal(t, "<p>hello</p>", r.FormValue("content"))
			assert.Equal(t, "public", r.FormValue("privacy"))
			assert.Equal(t, "on", r.FormValue("nsfw"))
			assert.Equal(t, []string{"https://img.example/a.png", "https://img.example/b.png"}, r.MultipartForm.Value["picture[][pic_url]"])
			assert.Equal(t, []string{"1", "2"}, r.MultipartForm.Value["picture[][row]"])
			w.Write([]byte(`<html>posted</html>`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		pf := NewPillowfort(PillowfortConfig{BaseURL: server.URL, Sessions: cookieSessions()})
		result, err := pf.Post(context.Background(), nil, data)
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/posts/create", result.PostURL)
		assert.Equal(t, int32(2), uploads.Load())
	})

	t.Run("non-200 keeps the body", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /posts/new", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(pillowfortNewPostPage))
		})
		mux.HandleFunc("POST /posts/create", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"bad post"}`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		journal := data
		journal.Type = submission.TypeJournal

		pf := NewPillowfort(PillowfortConfig{BaseURL: server.URL, Sessions: cookieSessions()})
		_, err := pf.Post(context.Background(), nil, journal)

		pe := requirePostError(t, err)
		assert.Equal(t, KindProtocol, pe.Kind)
		assert.Equal(t, "Unknown error", pe.Message)
		assert.Equal(t, `{"error":"bad post"}`, pe.Payload)
	})

	t.Run("cancelled before uploads", func(t *testing.T) {
		var uploads atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /posts/new", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(pillowfortNewPostPage))
		})
		mux.HandleFunc("POST /image_upload", func(w http.ResponseWriter, r *http.Request) {
			uploads.Add(1)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		cancel := make(chan struct{})
		close(cancel)

		pf := NewPillowfort(PillowfortConfig{BaseURL: server.URL, Sessions: cookieSessions()})
		_, err := pf.Post(context.Background(), nil, data.WithCancel(cancel))

		assert.ErrorIs(t, err, ErrCancelled)
		assert.Zero(t, uploads.Load())
	})
}

func TestPillowfort_baseFields(t *testing.T) {
	pf := NewPillowfort(PillowfortConfig{Sessions: newFakeSessions()})

	values := fieldsToValues(pf.baseFields(PostData{
		Rating:  submission.RatingGeneral,
		Options: submission.Options{"viewable": "followers", "allowReblog": true, "disableComments": true},
	}, "t", "text"))

	assert.Equal(t, "followers", values.Get("privacy"))
	assert.Equal(t, "on", values.Get("rebloggable"))
	assert.Empty(t, values.Get("commentable"))
	assert.Empty(t, values.Get("nsfw"))
	assert.Equal(t, "✓", values.Get("utf8"))
}
