package validation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

type fakeSite struct {
	id       string
	problems []website.Problem
	calls    *int
}

func (f *fakeSite) ID() string { return f.id }

func (f *fakeSite) CheckStatus(ctx context.Context, profileID string) website.Status {
	return website.Status{}
}

func (f *fakeSite) Validate(sub *submission.Submission, form submission.SiteForm) []website.Problem {
	if f.calls != nil {
		*f.calls++
	}
	return f.problems
}

func (f *fakeSite) Post(ctx context.Context, sub *submission.Submission, data website.PostData) (*website.PostResult, error) {
	return nil, nil
}

func newRegistry(t *testing.T, sites ...*fakeSite) *website.Registry {
	t.Helper()
	entries := make([]website.Entry, 0, len(sites))
	for _, s := range sites {
		entries = append(entries, website.Entry{Adapter: s, Descriptor: website.Descriptor{ID: s.id}})
	}
	reg, err := website.NewRegistry(entries)
	require.NoError(t, err)
	return reg
}

func validSubmission(sites ...string) *submission.Submission {
	return &submission.Submission{
		Title:  "t",
		Rating: submission.RatingGeneral,
		Type:   submission.TypeSubmission,
		FormData: &submission.FormData{
			Websites:     sites,
			LoginProfile: "p1",
		},
	}
}

func TestEngine_Validate_Structural(t *testing.T) {
	calls := 0
	reg := newRegistry(t, &fakeSite{id: "A", problems: []website.Problem{{Site: "A", Message: "bad"}}, calls: &calls})
	engine := New(reg)

	t.Run("everything missing", func(t *testing.T) {
		problems := engine.Validate(&submission.Submission{})
		assert.Equal(t, []string{ProblemNoLoginProfile, ProblemNoWebsites, ProblemRatingMissing}, problems)
	})

	t.Run("missing form data reports sites and profile", func(t *testing.T) {
		sub := validSubmission("A")
		sub.FormData = nil
		assert.Equal(t, []string{ProblemNoLoginProfile, ProblemNoWebsites}, engine.Validate(sub))
		assert.Zero(t, calls)
	})

	t.Run("no profile skips site validators", func(t *testing.T) {
		sub := validSubmission("A")
		sub.FormData.LoginProfile = ""

		assert.Equal(t, []string{ProblemNoLoginProfile}, engine.Validate(sub))
		assert.Zero(t, calls)
	})

	t.Run("no sites", func(t *testing.T) {
		assert.Equal(t, []string{ProblemNoWebsites}, engine.Validate(validSubmission()))
	})

	t.Run("unknown rating", func(t *testing.T) {
		sub := validSubmission()
		sub.Rating = "adult"
		assert.Contains(t, engine.Validate(sub), "Unknown rating: adult")
	})
}

func TestEngine_Validate_Sites(t *testing.T) {
	reg := newRegistry(t,
		&fakeSite{id: "A", problems: []website.Problem{{Site: "A", Message: "Missing file"}}},
		&fakeSite{id: "B", problems: []website.Problem{{Site: "B", Message: "Max file size", Value: "5MB"}}},
		&fakeSite{id: "C"},
	)
	engine := New(reg)

	t.Run("collects every problem sorted", func(t *testing.T) {
		problems := engine.Validate(validSubmission("B", "A", "C"))
		assert.Equal(t, []string{"A: Missing file", "B: Max file size (5MB)"}, problems)
	})

	t.Run("site order does not matter", func(t *testing.T) {
		orders := [][]string{{"A", "B", "C"}, {"C", "B", "A"}, {"B", "C", "A"}}
		first := engine.Validate(validSubmission(orders[0]...))
		for _, order := range orders[1:] {
			t.Run(fmt.Sprint(order), func(t *testing.T) {
				assert.Equal(t, first, engine.Validate(validSubmission(order...)))
			})
		}
	})

	t.Run("unknown website", func(t *testing.T) {
		problems := engine.Validate(validSubmission("C", "Nope"))
		assert.Equal(t, []string{"Unknown website: Nope"}, problems)
	})

	t.Run("duplicates validated once", func(t *testing.T) {
		problems := engine.Validate(validSubmission("A", "A"))
		assert.Equal(t, []string{"A: Missing file"}, problems)
	})

	t.Run("clean submission", func(t *testing.T) {
		problems := engine.Validate(validSubmission("C"))
		assert.NotNil(t, problems)
		assert.Empty(t, problems)
	})

	t.Run("subset", func(t *testing.T) {
		problems := engine.ValidateSites(validSubmission("A", "B", "C"), []string{"B"})
		assert.Equal(t, []string{"B: Max file size (5MB)"}, problems)
	})
}

func TestEngine_Refresh(t *testing.T) {
	engine := New(newRegistry(t, &fakeSite{id: "A", problems: []website.Problem{{Site: "A", Message: "bad"}}}))

	sub := validSubmission("A")
	sub.Problems = []string{}
	engine.Refresh(sub)
	assert.Equal(t, []string{"A: bad"}, sub.Problems)
	assert.False(t, sub.Postable())
}

func TestEngine_Validate_Panic(t *testing.T) {
	reg := newRegistry(t, &fakeSite{id: "A"})
	engine := New(panicValidators{reg})

	assert.Equal(t, []string{"A: validation failed"}, engine.Validate(validSubmission("A")))
}

type panicValidators struct{ *website.Registry }

func (p panicValidators) ValidatorsFor(ids []string) ([]website.ValidateFunc, error) {
	return []website.ValidateFunc{func(*submission.Submission, submission.SiteForm) []website.Problem {
		panic("boom")
	}}, nil
}

func TestEngine_Validate_Twitter(t *testing.T) {
	reg, err := website.NewDefaultRegistry(website.Deps{})
	require.NoError(t, err)
	engine := New(reg)

	sub := validSubmission(website.TwitterID)
	sub.Primary = &submission.File{Name: "anim.gif", Type: "image/gif", Size: submission.MBToBytes(16)}
	assert.Equal(t, []string{"Twitter (GIF): Max file size (15MB)"}, engine.Validate(sub))

	sub.Primary = &submission.File{Name: "still.png", Type: "image/png", Size: submission.MBToBytes(4)}
	assert.Empty(t, engine.Validate(sub))
}
