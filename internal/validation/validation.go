// Package validation computes the blocking problems of a submission: the
// structural checks every submission must pass and the validators of each
// selected site.
package validation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

const (
	ProblemRatingMissing   = "Rating missing"
	ProblemNoWebsites      = "No websites selected"
	ProblemNoLoginProfile  = "Must select a login profile"
	problemUnknownWebsite  = "Unknown website: %s"
	problemInvalidRating   = "Unknown rating: %s"
	problemValidatorFailed = "%s: validation failed"
)

// Validators resolves site validators by id.
type Validators interface {
	ValidatorsFor(ids []string) ([]website.ValidateFunc, error)
}

// Engine validates submissions against the registered sites.
type Engine struct {
	validators Validators
}

// New creates a validation engine.
func New(v Validators) *Engine {
	return &Engine{validators: v}
}

// Validate returns every problem of sub, sorted.
func (e *Engine) Validate(sub *submission.Submission) []string {
	return e.ValidateSites(sub, sub.Websites())
}

// Refresh recomputes and stores the problems of sub.
func (e *Engine) Refresh(sub *submission.Submission) []string {
	sub.Problems = e.Validate(sub)
	return sub.Problems
}

// ValidateSites validates sub as if only sites were selected.
func (e *Engine) ValidateSites(sub *submission.Submission, sites []string) []string {
	problems := []string{}

	switch {
	case sub.Rating == "":
		problems = append(problems, ProblemRatingMissing)
	case !sub.Rating.Valid():
		problems = append(problems, fmt.Sprintf(problemInvalidRating, sub.Rating))
	}

	sites = unique(sites)
	if len(sites) == 0 {
		problems = append(problems, ProblemNoWebsites)
	}
	if sub.LoginProfile() == "" {
		problems = append(problems, ProblemNoLoginProfile)
	}

	// Site validators only make sense once there is somewhere and someone to post as.
	if len(sites) > 0 && sub.LoginProfile() != "" {
		for _, site := range sites {
			problems = append(problems, e.validateSite(sub, site)...)
		}
	}

	sort.Strings(problems)
	return problems
}

func (e *Engine) validateSite(sub *submission.Submission, site string) (problems []string) {
	fns, err := e.validators.ValidatorsFor([]string{site})
	if err != nil {
		if errors.Is(err, website.ErrNotFound) {
			return []string{fmt.Sprintf(problemUnknownWebsite, site)}
		}
		return []string{fmt.Sprintf(problemValidatorFailed, site)}
	}

	defer func() {
		if r := recover(); r != nil {
			problems = []string{fmt.Sprintf(problemValidatorFailed, site)}
		}
	}()

	form := sub.SiteForm(site)
	for _, fn := range fns {
		for _, p := range fn(sub, form) {
			problems = append(problems, p.String())
		}
	}
	return problems
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
