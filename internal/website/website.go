// Package website implements the uniform site adapter contract, the static
// adapter registry and the content formatter shared by every adapter.
package website

import (
	"context"
	"net/http"

	"github.com/abdulachik/multipost/internal/submission"
)

// LoginStatus is the result of a status probe.
type LoginStatus string

const (
	LoggedIn  LoginStatus = "logged_in"
	LoggedOut LoginStatus = "logged_out"
)

// Status reports whether a login profile is signed in to a site.
type Status struct {
	Status   LoginStatus `json:"status"`
	Username string      `json:"username,omitempty"`
}

// Problem is a site-qualified validation failure.
type Problem struct {
	Site    string
	Message string
	Value   string
}

// String renders the problem for display.
func (p Problem) String() string {
	if p.Value == "" {
		return p.Site + ": " + p.Message
	}
	return p.Site + ": " + p.Message + " (" + p.Value + ")"
}

// ValidateFunc is a site-specific validator.
type ValidateFunc func(sub *submission.Submission, form submission.SiteForm) []Problem

// PostData is everything an adapter needs to post, already formatted for the site.
type PostData struct {
	Title       string
	Tags        []string
	Description string
	Rating      submission.Rating
	Type        submission.Type
	Options     submission.Options
	Primary     *submission.File
	Additional  []submission.File
	ProfileID   string

	cancel <-chan struct{}
}

// WithCancel attaches a cancellation signal adapters observe between protocol steps.
func (d PostData) WithCancel(ch <-chan struct{}) PostData {
	d.cancel = ch
	return d
}

// Cancelled returns ErrCancelled once the post has been cancelled.
func (d PostData) Cancelled() error {
	if d.cancel == nil {
		return nil
	}
	select {
	case <-d.cancel:
		return ErrCancelled
	default:
		return nil
	}
}

// Files returns the primary file followed by the additional ones.
func (d PostData) Files() []submission.File {
	var files []submission.File
	if d.Primary != nil {
		files = append(files, *d.Primary)
	}
	return append(files, d.Additional...)
}

// PostResult is the outcome of a successful post.
type PostResult struct {
	PostID  string
	PostURL string
}

// Website is the contract every site adapter implements.
type Website interface {
	// ID returns the registry identifier of the site.
	ID() string

	// CheckStatus probes whether the profile is logged in. It never fails;
	// an inconclusive probe reports LoggedOut.
	CheckStatus(ctx context.Context, profileID string) Status

	// Validate returns the site-specific problems of a submission. It must not
	// mutate its input.
	Validate(sub *submission.Submission, form submission.SiteForm) []Problem

	// Post runs one protocol session. Failures are returned as *PostError.
	Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error)
}

// Unauthorizer is implemented by adapters holding stored credentials that can
// be invalidated after the site rejects them.
type Unauthorizer interface {
	Unauthorize(ctx context.Context, profileID string) error
}

// Folder is a destination gallery folder on a site.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FolderLister is implemented by adapters of sites that support folders.
type FolderLister interface {
	Folders(ctx context.Context, profileID string) ([]Folder, error)
}

// Sessions is the login subsystem as seen by adapters.
type Sessions interface {
	Cookies(ctx context.Context, profileID, baseURL string) ([]*http.Cookie, error)
	Data(ctx context.Context, profileID, site string) (map[string]string, error)
	StoreData(ctx context.Context, profileID, site string, data map[string]string) error
	HitURL(ctx context.Context, profileID, url string) error
}
