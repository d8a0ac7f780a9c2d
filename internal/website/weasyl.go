package website

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdulachik/multipost/internal/htmlutil"
	"github.com/abdulachik/multipost/internal/submission"
)

const (
	WeasylID = "Weasyl"

	weasylBaseURL    = "https://www.weasyl.com"
	weasylMaxFileMB  = 10
	weasylMinTags    = 2
	weasylErrorBlock = "#error_content"
)

var weasylAcceptedFiles = []string{"jpg", "jpeg", "png", "gif", "txt", "pdf", "mp3"}

// WeasylDescriptor returns the static metadata of the Weasyl adapter.
func WeasylDescriptor() Descriptor {
	return Descriptor{
		ID:              WeasylID,
		DisplayName:     "Weasyl",
		AcceptedFiles:   weasylAcceptedFiles,
		SupportsFolders: true,
		SupportsJournal: true,
		Login:           Login{URL: weasylBaseURL + "/signin"},
		Parsers:         []DescriptionParser{ParseMarkdown},
		UsernameShortcut: &Shortcut{
			Code: "ws",
			URL:  weasylBaseURL + "/~$1",
		},
		Protocol: "cookie session; GET /submit/{visual,literary,multimedia,journal} for token, " +
			"multipart (submission) or form (journal) POST; error page carries #error_content",
	}
}

// Weasyl posts to weasyl.com using the browser session cookies of a profile.
type Weasyl struct {
	client   *client
	sessions Sessions
	baseURL  string
}

// WeasylConfig holds configuration for the Weasyl adapter.
type WeasylConfig struct {
	BaseURL  string
	Sessions Sessions
	Client   ClientConfig
}

// NewWeasyl creates a new Weasyl adapter.
func NewWeasyl(cfg WeasylConfig) *Weasyl {
	base := cfg.BaseURL
	if base == "" {
		base = weasylBaseURL
	}
	return &Weasyl{
		client:   newClient(WeasylID, cfg.Client),
		sessions: cfg.Sessions,
		baseURL:  strings.TrimSuffix(base, "/"),
	}
}

// ID returns the site id.
func (w *Weasyl) ID() string {
	return WeasylID
}

// CheckStatus asks the whoami endpoint who the cookies belong to.
func (w *Weasyl) CheckStatus(ctx context.Context, profileID string) Status {
	status := Status{Status: LoggedOut}

	cookies, err := w.sessions.Cookies(ctx, profileID, w.baseURL)
	if err != nil {
		slog.Debug("weasyl cookies unavailable", "profile", profileID, "error", err)
		return status
	}

	resp, err := w.client.get(ctx, w.baseURL+"/api/whoami", cookies, nil)
	if err != nil {
		return status
	}

	var body struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return status
	}
	if body.Login != "" {
		status.Status = LoggedIn
		status.Username = body.Login
	}
	return status
}

// Validate checks tag count, file types and size.
func (w *Weasyl) Validate(sub *submission.Submission, form submission.SiteForm) []Problem {
	var problems []Problem

	if n := len(Tags(sub, WeasylID)); n < weasylMinTags {
		problems = append(problems, Problem{
			Site:    WeasylID,
			Message: "Requires at least 2 tags",
			Value:   strconv.Itoa(n),
		})
	}

	problems = append(problems, validateFiles(sub, WeasylID, weasylAcceptedFiles, 0)...)
	if sub.Type != submission.TypeJournal {
		if p := sizeProblem(WeasylID, sub.Primary, weasylMaxFileMB); p != nil {
			problems = append(problems, *p)
		}
	}

	return problems
}

// Post submits a journal or a file submission.
func (w *Weasyl) Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error) {
	switch data.Type {
	case submission.TypeJournal:
		return w.postJournal(ctx, data)
	case submission.TypeSubmission, "":
		return w.postSubmission(ctx, data)
	default:
		return nil, unsupportedError(WeasylID, data.Type)
	}
}

func (w *Weasyl) postJournal(ctx context.Context, data PostData) (*PostResult, error) {
	cookies, token, err := w.formToken(ctx, data.ProfileID, "/submit/journal")
	if err != nil {
		return nil, err
	}
	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	fields := []formField{
		{"token", token},
		{"title", data.Title},
		{"rating", weasylRating(data.Rating)},
		{"content", data.Description},
		{"tags", weasylTags(data.Tags)},
	}

	resp, err := w.client.postForm(ctx, w.baseURL+"/submit/journal", fieldsToValues(fields), cookies, nil)
	if err != nil {
		return nil, err
	}
	return w.result(resp)
}

func (w *Weasyl) postSubmission(ctx context.Context, data PostData) (*PostResult, error) {
	if data.Primary == nil {
		return nil, protocolError(WeasylID, "missing primary file", nil)
	}

	kind := weasylSubmitKind(data.Primary)
	cookies, token, err := w.formToken(ctx, data.ProfileID, "/submit/"+kind)
	if err != nil {
		return nil, err
	}
	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	fields := []formField{
		{"token", token},
		{"title", data.Title},
		{"subtype", data.Options.String("category", "")},
		{"folderid", data.Options.String("folder", "")},
		{"rating", weasylRating(data.Rating)},
		{"content", data.Description},
		{"tags", weasylTags(data.Tags)},
	}
	if data.Options.Bool("critique") {
		fields = append(fields, formField{"critique", "on"})
	}
	if data.Options.Bool("noNotification") {
		fields = append(fields, formField{"nonotification", ""})
	}

	files := []formFile{{
		Field: "submitfile",
		Name:  data.Primary.Name,
		Type:  data.Primary.Type,
		Data:  data.Primary.Buffer,
	}}

	resp, err := w.client.postMultipart(ctx, w.baseURL+"/submit/"+kind, fields, files, cookies, nil)
	if err != nil {
		return nil, err
	}
	return w.result(resp)
}

func (w *Weasyl) formToken(ctx context.Context, profileID, path string) ([]*http.Cookie, string, error) {
	cookies, err := w.sessions.Cookies(ctx, profileID, w.baseURL)
	if err != nil {
		return nil, "", authError(WeasylID, "no session cookies", nil)
	}

	resp, err := w.client.get(ctx, w.baseURL+path, cookies, nil)
	if err != nil {
		return nil, "", err
	}
	if strings.Contains(resp.URL, "/signin") {
		return nil, "", authError(WeasylID, "session expired", resp.Body)
	}

	token := htmlutil.ExtractInputValue(string(resp.Body), "token")
	if token == "" {
		return nil, "", authError(WeasylID, "form token not found", resp.Body)
	}
	return cookies, token, nil
}

func (w *Weasyl) result(resp *response) (*PostResult, error) {
	if strings.Contains(resp.URL, "/signin") {
		return nil, authError(WeasylID, "session expired", resp.Body)
	}
	if msg := htmlutil.FindText(string(resp.Body), weasylErrorBlock); msg != "" {
		return nil, protocolError(WeasylID, msg, resp.Body)
	}
	if !resp.ok() {
		return nil, protocolError(WeasylID, "unexpected status "+strconv.Itoa(resp.StatusCode), resp.Body)
	}
	return &PostResult{PostURL: resp.URL}, nil
}

func weasylSubmitKind(f *submission.File) string {
	switch f.Extension() {
	case "txt", "pdf":
		return "literary"
	case "mp3":
		return "multimedia"
	default:
		return "visual"
	}
}

func weasylRating(r submission.Rating) string {
	switch r {
	case submission.RatingMature:
		return "30"
	case submission.RatingExtreme:
		return "40"
	default:
		return "10"
	}
}

func weasylTags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ReplaceAll(strings.TrimSpace(t), " ", "_"))
	}
	return strings.Join(out, " ")
}
