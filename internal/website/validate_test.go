package website

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
)

func fileSubmission(name, mime string, sizeMB int) *submission.Submission {
	return &submission.Submission{
		Type:    submission.TypeSubmission,
		Rating:  submission.RatingGeneral,
		Primary: &submission.File{Name: name, Type: mime, Size: submission.MBToBytes(sizeMB)},
	}
}

func TestTwitter_Validate(t *testing.T) {
	tw := NewTwitter(TwitterConfig{Sessions: newFakeSessions()})

	t.Run("gif over its limit", func(t *testing.T) {
		problems := tw.Validate(fileSubmission("anim.gif", "image/gif", 16), submission.SiteForm{})
		require.Len(t, problems, 1)
		assert.Equal(t, "Twitter (GIF): Max file size (15MB)", problems[0].String())
	})

	t.Run("gif under its limit", func(t *testing.T) {
		assert.Empty(t, tw.Validate(fileSubmission("anim.gif", "image/gif", 14), submission.SiteForm{}))
	})

	t.Run("still image under its limit", func(t *testing.T) {
		assert.Empty(t, tw.Validate(fileSubmission("pic.png", "image/png", 4), submission.SiteForm{}))
	})

	t.Run("still image over its limit", func(t *testing.T) {
		problems := tw.Validate(fileSubmission("pic.png", "image/png", 6), submission.SiteForm{})
		require.Len(t, problems, 1)
		assert.Equal(t, "Twitter (Non-GIF): Max file size (5MB)", problems[0].String())
	})

	t.Run("unsupported format", func(t *testing.T) {
		problems := tw.Validate(fileSubmission("doc.pdf", "application/pdf", 1), submission.SiteForm{})
		require.Len(t, problems, 1)
		assert.Equal(t, "Does not support file format", problems[0].Message)
	})

	t.Run("journal has nothing to check", func(t *testing.T) {
		assert.Empty(t, tw.Validate(&submission.Submission{Type: submission.TypeJournal}, submission.SiteForm{}))
	})
}

func TestWeasyl_Validate(t *testing.T) {
	ws := NewWeasyl(WeasylConfig{Sessions: newFakeSessions()})

	sub := fileSubmission("pic.png", "image/png", 11)
	sub.FormData = &submission.FormData{
		Defaults: submission.SiteForm{Tags: &submission.TagData{Tags: []string{"one"}}},
	}

	var messages []string
	for _, p := range ws.Validate(sub, submission.SiteForm{}) {
		messages = append(messages, p.String())
	}
	assert.ElementsMatch(t, []string{
		"Weasyl: Requires at least 2 tags (1)",
		"Weasyl: Max file size (10MB)",
	}, messages)
}

func TestValidateFiles(t *testing.T) {
	t.Run("missing primary", func(t *testing.T) {
		problems := validateFiles(&submission.Submission{Type: submission.TypeSubmission}, "X", nil, 0)
		require.Len(t, problems, 1)
		assert.Equal(t, "Missing file", problems[0].Message)
	})

	t.Run("too many additional files", func(t *testing.T) {
		sub := fileSubmission("a.png", "image/png", 1)
		sub.Additional = []submission.File{{Name: "b.png", Type: "image/png"}, {Name: "c.png", Type: "image/png"}}

		problems := validateFiles(sub, "X", []string{"png"}, 1)
		require.Len(t, problems, 1)
		assert.Equal(t, "X: Too many additional files (1)", problems[0].String())
	})

	t.Run("validation does not mutate input", func(t *testing.T) {
		sub := fileSubmission("a.png", "image/png", 1)
		before := *sub.Primary
		validateFiles(sub, "X", []string{"jpg"}, 0)
		assert.Equal(t, before, *sub.Primary)
	})
}

func TestSupportsFileType(t *testing.T) {
	png := &submission.File{Name: "a.PNG", Type: "image/png"}

	assert.True(t, SupportsFileType(png, []string{"png"}))
	assert.True(t, SupportsFileType(png, nil))
	assert.False(t, SupportsFileType(png, []string{"gif"}))
	assert.False(t, SupportsFileType(nil, []string{"png"}))
}
