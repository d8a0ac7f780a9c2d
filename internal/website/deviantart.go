package website

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdulachik/multipost/internal/submission"
)

const (
	DeviantArtID = "DeviantArt"

	deviantArtBaseURL = "https://www.deviantart.com"
	deviantArtLimitMB = 30
)

var deviantArtAcceptedFiles = []string{"jpeg", "jpg", "png", "gif", "bmp", "webp", "txt", "pdf"}

// DeviantArtDescriptor returns the static metadata of the DeviantArt adapter.
func DeviantArtDescriptor() Descriptor {
	return Descriptor{
		ID:              DeviantArtID,
		DisplayName:     "DeviantArt",
		AcceptedFiles:   deviantArtAcceptedFiles,
		SupportsFolders: true,
		Login:           Login{URL: deviantArtBaseURL + "/users/login", Dialog: "deviantart-oauth"},
		UsernameShortcut: &Shortcut{
			Code: "da",
			URL:  deviantArtBaseURL + "/$1",
		},
		Protocol: "OAuth bearer; multipart /api/v1/oauth2/stash/submit then form /api/v1/oauth2/stash/publish; " +
			`JSON status "error" is a failure`,
	}
}

// DeviantArt posts through the public OAuth API with the token stored on a profile.
type DeviantArt struct {
	client   *client
	sessions Sessions
	baseURL  string
}

// DeviantArtConfig holds configuration for the DeviantArt adapter.
type DeviantArtConfig struct {
	BaseURL  string
	Sessions Sessions
	Client   ClientConfig
}

// NewDeviantArt creates a new DeviantArt adapter.
func NewDeviantArt(cfg DeviantArtConfig) *DeviantArt {
	base := cfg.BaseURL
	if base == "" {
		base = deviantArtBaseURL
	}
	return &DeviantArt{
		client:   newClient(DeviantArtID, cfg.Client),
		sessions: cfg.Sessions,
		baseURL:  strings.TrimSuffix(base, "/"),
	}
}

// ID returns the site id.
func (d *DeviantArt) ID() string {
	return DeviantArtID
}

// CheckStatus asks whoami for the token owner.
func (d *DeviantArt) CheckStatus(ctx context.Context, profileID string) Status {
	status := Status{Status: LoggedOut}

	headers, err := d.authHeader(ctx, profileID)
	if err != nil {
		return status
	}

	resp, err := d.client.get(ctx, d.baseURL+"/api/v1/oauth2/user/whoami", nil, headers)
	if err != nil || !resp.ok() {
		return status
	}

	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Username == "" {
		return status
	}
	status.Status = LoggedIn
	status.Username = body.Username
	return status
}

// Unauthorize forgets the stored access token.
func (d *DeviantArt) Unauthorize(ctx context.Context, profileID string) error {
	return d.sessions.StoreData(ctx, profileID, DeviantArtID, nil)
}

// Folders lists the gallery folders of the token owner.
func (d *DeviantArt) Folders(ctx context.Context, profileID string) ([]Folder, error) {
	headers, err := d.authHeader(ctx, profileID)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.get(ctx, d.baseURL+"/api/v1/oauth2/gallery/folders?limit=50", nil, headers)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, protocolError(DeviantArtID, "list folders failed", resp.Body)
	}

	var body struct {
		Results []struct {
			FolderID string `json:"folderid"`
			Name     string `json:"name"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError(DeviantArtID, "parse folders", resp.Body)
	}

	folders := make([]Folder, 0, len(body.Results))
	for _, r := range body.Results {
		folders = append(folders, Folder{ID: r.FolderID, Name: r.Name})
	}
	return folders, nil
}

// Validate checks the file type and size.
func (d *DeviantArt) Validate(sub *submission.Submission, form submission.SiteForm) []Problem {
	if sub.Type == submission.TypeJournal {
		return []Problem{{Site: DeviantArtID, Message: "Journals are not supported"}}
	}
	problems := validateFiles(sub, DeviantArtID, deviantArtAcceptedFiles, 0)
	if p := sizeProblem(DeviantArtID, sub.Primary, deviantArtLimitMB); p != nil {
		problems = append(problems, *p)
	}
	return problems
}

type deviantArtResponse struct {
	Status           string `json:"status"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ItemID           int64  `json:"itemid"`
	URL              string `json:"url"`
	DeviationID      string `json:"deviationid"`
}

// Post stashes the primary file and publishes it.
func (d *DeviantArt) Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error) {
	if data.Type == submission.TypeJournal {
		return nil, unsupportedError(DeviantArtID, data.Type)
	}
	if data.Primary == nil {
		return nil, protocolError(DeviantArtID, "missing primary file", nil)
	}

	headers, err := d.authHeader(ctx, data.ProfileID)
	if err != nil {
		return nil, err
	}

	fields := []formField{
		{"title", data.Title},
		{"artist_comments", data.Description},
	}
	for _, t := range data.Tags {
		fields = append(fields, formField{"tags[]", strings.ReplaceAll(t, " ", "_")})
	}
	files := []formFile{{Field: "file", Name: data.Primary.Name, Type: data.Primary.Type, Data: data.Primary.Buffer}}

	resp, err := d.client.postMultipart(ctx, d.baseURL+"/api/v1/oauth2/stash/submit", fields, files, nil, headers)
	if err != nil {
		return nil, err
	}
	stashed, err := d.decode(resp)
	if err != nil {
		return nil, err
	}

	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	resp, err = d.client.postForm(ctx, d.baseURL+"/api/v1/oauth2/stash/publish",
		fieldsToValues(d.publishFields(stashed.ItemID, data)), nil, headers)
	if err != nil {
		return nil, err
	}
	published, err := d.decode(resp)
	if err != nil {
		return nil, err
	}

	return &PostResult{PostID: published.DeviationID, PostURL: published.URL}, nil
}

func (d *DeviantArt) publishFields(itemID int64, data PostData) []formField {
	bool01 := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}

	mature := data.Rating != submission.RatingGeneral
	fields := []formField{
		{"itemid", strconv.FormatInt(itemID, 10)},
		{"agree_submission", "1"},
		{"agree_tos", "1"},
		{"is_mature", bool01(mature)},
		{"feature", bool01(data.Options.Bool("feature"))},
		{"allow_comments", bool01(!data.Options.Bool("disableComments"))},
		{"request_critique", bool01(data.Options.Bool("critique"))},
		{"allow_free_download", bool01(data.Options.Bool("freeDownload"))},
	}
	if mature {
		level := data.Options.String("matureLevel", "")
		if level == "" && data.Rating == submission.RatingExtreme {
			level = "strict"
		} else if level == "" {
			level = "moderate"
		}
		fields = append(fields, formField{"mature_level", level})
		for _, c := range data.Options.Strings("matureClassification") {
			fields = append(fields, formField{"mature_classification[]", c})
		}
	}
	for _, f := range data.Options.Strings("folders") {
		fields = append(fields, formField{"galleryids[]", f})
	}
	return fields
}

func (d *DeviantArt) decode(resp *response) (*deviantArtResponse, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, authError(DeviantArtID, "token rejected", resp.Body)
	}

	var body deviantArtResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError(DeviantArtID, "unexpected response", resp.Body)
	}
	if body.Status == "error" {
		msg := body.ErrorDescription
		if msg == "" {
			msg = body.Error
		}
		if msg == "" {
			msg = "Unknown error"
		}
		if body.Error == "invalid_token" {
			return nil, authError(DeviantArtID, msg, resp.Body)
		}
		return nil, protocolError(DeviantArtID, msg, resp.Body)
	}
	if !resp.ok() {
		return nil, protocolError(DeviantArtID, "Unknown error", resp.Body)
	}
	return &body, nil
}

func (d *DeviantArt) authHeader(ctx context.Context, profileID string) (map[string]string, error) {
	creds, err := d.sessions.Data(ctx, profileID, DeviantArtID)
	if err != nil || creds["accessToken"] == "" {
		return nil, authError(DeviantArtID, "not authorized", nil)
	}
	return map[string]string{"Authorization": "Bearer " + creds["accessToken"]}, nil
}
