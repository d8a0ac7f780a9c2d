package website

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdulachik/multipost/internal/htmlutil"
	"github.com/abdulachik/multipost/internal/submission"
)

const (
	PillowfortID = "Pillowfort"

	pillowfortBaseURL        = "https://www.pillowfort.social"
	pillowfortMaxAdditional  = 20
	pillowfortSignoutMarker  = "/signout"
	pillowfortTokenFieldName = "authenticity_token"
)

var (
	pillowfortAcceptedFiles = []string{"png", "jpeg", "jpg", "gif"}
	pillowfortUsername      = regexp.MustCompile(`value="current_user">(.*?)<`)
)

// PillowfortDescriptor returns the static metadata of the Pillowfort adapter.
func PillowfortDescriptor() Descriptor {
	return Descriptor{
		ID:                 PillowfortID,
		DisplayName:        "Pillowfort",
		AcceptedFiles:      pillowfortAcceptedFiles,
		MaxAdditionalFiles: pillowfortMaxAdditional,
		SupportsJournal:    true,
		Login:              Login{URL: pillowfortBaseURL + "/users/sign_in"},
		UsernameShortcut: &Shortcut{
			Code: "pf",
			URL:  pillowfortBaseURL + "/$1",
		},
		Protocol: "cookie session; authenticity_token from /posts/new; images to /image_upload with X-CSRF-Token; " +
			"form (text) or multipart picture[] (picture) POST /posts/create; non-200 is a failure",
	}
}

// Pillowfort posts to pillowfort.social with the profile's browser cookies.
type Pillowfort struct {
	client   *client
	sessions Sessions
	baseURL  string
}

// PillowfortConfig holds configuration for the Pillowfort adapter.
type PillowfortConfig struct {
	BaseURL  string
	Sessions Sessions
	Client   ClientConfig
}

// NewPillowfort creates a new Pillowfort adapter.
func NewPillowfort(cfg PillowfortConfig) *Pillowfort {
	base := cfg.BaseURL
	if base == "" {
		base = pillowfortBaseURL
	}
	return &Pillowfort{
		client:   newClient(PillowfortID, cfg.Client),
		sessions: cfg.Sessions,
		baseURL:  strings.TrimSuffix(base, "/"),
	}
}

// ID returns the site id.
func (p *Pillowfort) ID() string {
	return PillowfortID
}

// CheckStatus looks for the sign-out link on the home page. A logged in
// session is refreshed through the browser helper.
func (p *Pillowfort) CheckStatus(ctx context.Context, profileID string) Status {
	status := Status{Status: LoggedOut}

	cookies, err := p.sessions.Cookies(ctx, profileID, p.baseURL)
	if err != nil {
		return status
	}

	resp, err := p.client.get(ctx, p.baseURL, cookies, nil)
	if err != nil {
		return status
	}

	body := string(resp.Body)
	if !strings.Contains(body, pillowfortSignoutMarker) {
		return status
	}

	if err := p.sessions.HitURL(ctx, profileID, p.baseURL); err != nil {
		slog.Debug("pillowfort session refresh failed", "profile", profileID, "error", err)
	}

	status.Status = LoggedIn
	if m := pillowfortUsername.FindStringSubmatch(body); len(m) == 2 {
		status.Username = m[1]
	}
	return status
}

// Validate checks the file formats and additional file count.
func (p *Pillowfort) Validate(sub *submission.Submission, form submission.SiteForm) []Problem {
	return validateFiles(sub, PillowfortID, pillowfortAcceptedFiles, pillowfortMaxAdditional)
}

// Post creates a text post for journals and a picture post for submissions.
func (p *Pillowfort) Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error) {
	switch data.Type {
	case submission.TypeJournal:
		return p.postJournal(ctx, data)
	case submission.TypeSubmission, "":
		return p.postSubmission(ctx, data)
	default:
		return nil, unsupportedError(PillowfortID, data.Type)
	}
}

func (p *Pillowfort) postJournal(ctx context.Context, data PostData) (*PostResult, error) {
	cookies, token, err := p.formToken(ctx, data.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	fields := p.baseFields(data, token, "text")
	resp, err := p.client.postForm(ctx, p.baseURL+"/posts/create", fieldsToValues(fields), cookies, nil)
	if err != nil {
		return nil, err
	}
	return p.result(resp)
}

type pillowfortUpload struct {
	FullImage  string `json:"full_image"`
	SmallImage string `json:"small_image"`
}

func (p *Pillowfort) postSubmission(ctx context.Context, data PostData) (*PostResult, error) {
	cookies, token, err := p.formToken(ctx, data.ProfileID)
	if err != nil {
		return nil, err
	}

	fields := p.baseFields(data, token, "picture")

	for i, f := range data.Files() {
		if err := data.Cancelled(); err != nil {
			return nil, err
		}

		upload, err := p.uploadImage(ctx, f, cookies, token)
		if err != nil {
			return nil, err
		}

		fields = append(fields,
			formField{"picture[][pic_url]", upload.FullImage},
			formField{"picture[][small_image_url]", upload.SmallImage},
			formField{"picture[][b2_lg_url]", ""},
			formField{"picture[][b2_sm_url]", ""},
			formField{"picture[][row]", strconv.Itoa(i + 1)},
			formField{"picture[][col]", "0"},
		)
	}

	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	resp, err := p.client.postMultipart(ctx, p.baseURL+"/posts/create", fields, nil, cookies, nil)
	if err != nil {
		return nil, err
	}
	return p.result(resp)
}

func (p *Pillowfort) uploadImage(ctx context.Context, f submission.File, cookies []*http.Cookie, token string) (*pillowfortUpload, error) {
	fields := []formField{{"file_name", f.Name}}
	files := []formFile{{Field: "photo", Name: f.Name, Type: f.Type, Data: f.Buffer}}

	resp, err := p.client.postMultipart(ctx, p.baseURL+"/image_upload", fields, files, cookies, map[string]string{
		"X-CSRF-Token": token,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, protocolError(PillowfortID, "Failed to upload image", resp.Body)
	}

	var upload pillowfortUpload
	if err := json.Unmarshal(resp.Body, &upload); err != nil || upload.FullImage == "" {
		return nil, protocolError(PillowfortID, "Failed to upload image", resp.Body)
	}
	return &upload, nil
}

func (p *Pillowfort) baseFields(data PostData, token, postType string) []formField {
	fields := []formField{
		{pillowfortTokenFieldName, token},
		{"utf8", "✓"},
		{"post_to", "current_user"},
		{"post_type", postType},
		{"title", data.Title},
		{"content", fmt.Sprintf("<p>%s</p>", data.Description)},
		{"privacy", data.Options.String("viewable", "public")},
		{"tags", strings.Join(data.Tags, ", ")},
		{"commit", "Submit"},
	}

	if data.Options.Bool("allowReblog") {
		fields = append(fields, formField{"rebloggable", "on"})
	}
	if !data.Options.Bool("disableComments") {
		fields = append(fields, formField{"commentable", "on"})
	}
	if data.Options.Bool("nsfw") || data.Rating != submission.RatingGeneral {
		fields = append(fields, formField{"nsfw", "on"})
	}
	return fields
}

func (p *Pillowfort) formToken(ctx context.Context, profileID string) ([]*http.Cookie, string, error) {
	cookies, err := p.sessions.Cookies(ctx, profileID, p.baseURL)
	if err != nil {
		return nil, "", authError(PillowfortID, "no session cookies", nil)
	}

	resp, err := p.client.get(ctx, p.baseURL+"/posts/new", cookies, nil)
	if err != nil {
		return nil, "", err
	}

	token := htmlutil.ExtractInputValue(string(resp.Body), pillowfortTokenFieldName)
	if token == "" {
		return nil, "", authError(PillowfortID, "authenticity token not found", resp.Body)
	}
	return cookies, token, nil
}

func (p *Pillowfort) result(resp *response) (*PostResult, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, protocolError(PillowfortID, "Unknown error", resp.Body)
	}
	return &PostResult{PostURL: resp.URL}, nil
}
