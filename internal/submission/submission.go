// Package submission holds the data model shared by the posting core.
package submission

import (
	"strings"
	"time"
)

// Rating is the content rating of a submission.
type Rating string

const (
	RatingGeneral Rating = "general"
	RatingMature  Rating = "mature"
	RatingExtreme Rating = "extreme"
)

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool {
	switch r {
	case RatingGeneral, RatingMature, RatingExtreme:
		return true
	}
	return false
}

// Type distinguishes media submissions from text journals.
type Type string

const (
	TypeSubmission Type = "submission"
	TypeJournal    Type = "journal"
)

// Submission is one logical post destined for many sites.
type Submission struct {
	ID         string    `json:"id" yaml:"id,omitempty"`
	Title      string    `json:"title" yaml:"title"`
	Rating     Rating    `json:"rating" yaml:"rating"`
	Type       Type      `json:"type" yaml:"type"`
	Primary    *File     `json:"primary,omitempty" yaml:"-"`
	Additional []File    `json:"additional,omitempty" yaml:"-"`
	FormData   *FormData `json:"formData,omitempty" yaml:"formData"`

	// Problems caches the last validation output.
	Problems []string `json:"problems" yaml:"-"`

	Queued     bool      `json:"queued" yaml:"-"`
	Scheduled  bool      `json:"scheduled" yaml:"scheduled,omitempty"`
	ScheduleAt time.Time `json:"scheduleAt,omitempty" yaml:"scheduleAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Postable reports whether the submission may be offered for posting.
func (s *Submission) Postable() bool {
	return !s.Queued && !s.Scheduled && len(s.Problems) == 0
}

// Websites returns the selected destination site ids.
func (s *Submission) Websites() []string {
	if s.FormData == nil {
		return nil
	}
	return s.FormData.Websites
}

// LoginProfile returns the selected login profile id.
func (s *Submission) LoginProfile() string {
	if s.FormData == nil {
		return ""
	}
	return s.FormData.LoginProfile
}

// SiteForm returns the site-specific form data, or an empty form.
func (s *Submission) SiteForm(site string) SiteForm {
	if s.FormData == nil || s.FormData.Sites == nil {
		return SiteForm{}
	}
	return s.FormData.Sites[site]
}

// Files returns the primary file followed by the additional files.
func (s *Submission) Files() []File {
	var files []File
	if s.Primary != nil {
		files = append(files, *s.Primary)
	}
	return append(files, s.Additional...)
}

// FormData is the user-entered form state for a submission.
type FormData struct {
	Websites     []string            `json:"websites" yaml:"websites"`
	LoginProfile string              `json:"loginProfile" yaml:"loginProfile"`
	Defaults     SiteForm            `json:"defaults" yaml:"defaults"`
	Sites        map[string]SiteForm `json:"sites,omitempty" yaml:"sites,omitempty"`
}

// SiteForm carries tag, description and option overrides for one site.
// The same shape is used for the global defaults.
type SiteForm struct {
	Tags        *TagData         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Description *DescriptionData `json:"description,omitempty" yaml:"description,omitempty"`
	Options     Options          `json:"options,omitempty" yaml:"options,omitempty"`
}

// TagData is a tag list; Extend appends it to the defaults instead of replacing them.
type TagData struct {
	Tags   []string `json:"tags" yaml:"tags"`
	Extend bool     `json:"extend" yaml:"extend"`
}

// DescriptionData is an HTML description; Overwrite replaces the default.
type DescriptionData struct {
	Description string `json:"description" yaml:"description"`
	Overwrite   bool   `json:"overwrite" yaml:"overwrite"`
}

// Options is the free-form per-site option set.
type Options map[string]any

// Bool returns the option as a bool, false when absent.
func (o Options) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "on" || v == "1"
	}
	return false
}

// String returns the option as a string, or def when absent.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings returns the option as a string list.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Draft is a submission that has not been stored yet.
type Draft struct {
	Title      string    `yaml:"title"`
	Rating     Rating    `yaml:"rating"`
	Type       Type      `yaml:"type"`
	Primary    *File     `yaml:"-"`
	Additional []File    `yaml:"-"`
	FormData   *FormData `yaml:"formData"`
	Scheduled  bool      `yaml:"scheduled"`
	ScheduleAt time.Time `yaml:"scheduleAt"`
}
