package website

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/abdulachik/multipost/internal/submission"
)

const (
	TwitterID = "Twitter"

	// TwitterMaxLength is the maximum character count for a Twitter post.
	TwitterMaxLength = 280

	twitterMaxMedia    = 4
	twitterGIFLimitMB  = 15
	twitterFileLimitMB = 5
)

var (
	twitterAcceptedFiles = []string{"jpeg", "jpg", "png", "gif", "webp"}
	twitterMention       = regexp.MustCompile(`(?i):tw(.*?):`)
)

// TwitterDescriptor returns the static metadata of the Twitter adapter.
func TwitterDescriptor() Descriptor {
	return Descriptor{
		ID:                 TwitterID,
		DisplayName:        "Twitter",
		AcceptedFiles:      twitterAcceptedFiles,
		MaxAdditionalFiles: twitterMaxMedia - 1,
		SupportsJournal:    true,
		Login:              Login{URL: "https://twitter.com/", Dialog: "twitter-oauth"},
		Preparsers:         []DescriptionParser{parseTwitterMentions},
		Parsers:            []DescriptionParser{ParsePlaintext},
		DisableAdvertise:   true,
		UsernameShortcut: &Shortcut{
			Code: "tw",
			URL:  "https://twitter.com/$1",
		},
		Protocol: "JSON {status, medias[{base64,type}], token, secret} to <auth broker>/twitter/v1/post; " +
			"a non-empty errors array is a failure",
	}
}

func parseTwitterMentions(description string) string {
	return twitterMention.ReplaceAllString(description, "@$1")
}

// Twitter posts through the OAuth auth broker using the token pair stored on
// the login profile.
type Twitter struct {
	client   *client
	sessions Sessions
	authURL  string
}

// TwitterConfig holds configuration for the Twitter adapter.
type TwitterConfig struct {
	AuthURL  string
	Sessions Sessions
	Client   ClientConfig
}

// NewTwitter creates a new Twitter adapter.
func NewTwitter(cfg TwitterConfig) *Twitter {
	return &Twitter{
		client:   newClient(TwitterID, cfg.Client),
		sessions: cfg.Sessions,
		authURL:  strings.TrimSuffix(cfg.AuthURL, "/"),
	}
}

// ID returns the site id.
func (t *Twitter) ID() string {
	return TwitterID
}

// CheckStatus reports the account stored on the profile by the login dialog.
func (t *Twitter) CheckStatus(ctx context.Context, profileID string) Status {
	status := Status{Status: LoggedOut}

	data, err := t.sessions.Data(ctx, profileID, TwitterID)
	if err != nil || data == nil {
		return status
	}
	if data["username"] != "" && data["token"] != "" {
		status.Status = LoggedIn
		status.Username = data["username"]
	}
	return status
}

// Unauthorize forgets the stored token pair.
func (t *Twitter) Unauthorize(ctx context.Context, profileID string) error {
	return t.sessions.StoreData(ctx, profileID, TwitterID, nil)
}

// Validate checks file type and the GIF/non-GIF size limits.
func (t *Twitter) Validate(sub *submission.Submission, form submission.SiteForm) []Problem {
	if sub.Type == submission.TypeJournal || sub.Primary == nil {
		return nil
	}

	var problems []Problem
	if !SupportsFileType(sub.Primary, twitterAcceptedFiles) {
		problems = append(problems, Problem{Site: TwitterID, Message: "Does not support file format", Value: sub.Primary.Type})
	}

	if sub.Primary.IsGIF() {
		if p := sizeProblem(TwitterID+" (GIF)", sub.Primary, twitterGIFLimitMB); p != nil {
			problems = append(problems, *p)
		}
	} else if p := sizeProblem(TwitterID+" (Non-GIF)", sub.Primary, twitterFileLimitMB); p != nil {
		problems = append(problems, *p)
	}

	return problems
}

type twitterMedia struct {
	Base64 string `json:"base64"`
	Type   string `json:"type"`
}

type twitterPostRequest struct {
	Status string         `json:"status"`
	Medias []twitterMedia `json:"medias"`
	Token  string         `json:"token"`
	Secret string         `json:"secret"`
}

type twitterPostResponse struct {
	Errors []json.RawMessage `json:"errors"`
}

// Post sends the status and media to the auth broker. Journals are text only.
func (t *Twitter) Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error) {
	if t.authURL == "" {
		return nil, protocolError(TwitterID, "auth broker URL is not configured", nil)
	}

	auth, err := t.sessions.Data(ctx, data.ProfileID, TwitterID)
	if err != nil || auth["token"] == "" {
		return nil, authError(TwitterID, "not authorized", nil)
	}

	text := data.Description
	if data.Options.Bool("useTitle") && data.Title != "" {
		text = data.Title + "\n\n" + text
	}

	req := twitterPostRequest{
		Status: Truncate(text, TwitterMaxLength),
		Medias: []twitterMedia{},
		Token:  auth["token"],
		Secret: auth["secret"],
	}
	if data.Type != submission.TypeJournal {
		for _, f := range data.Files() {
			if len(req.Medias) == twitterMaxMedia {
				break
			}
			req.Medias = append(req.Medias, twitterMedia{
				Base64: base64.StdEncoding.EncodeToString(f.Buffer),
				Type:   f.Type,
			})
		}
	}

	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	resp, err := t.client.postJSON(ctx, t.authURL+"/twitter/v1/post", req, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, authError(TwitterID, "token rejected", resp.Body)
	}

	var body twitterPostResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError(TwitterID, fmt.Sprintf("unexpected response (status %d)", resp.StatusCode), resp.Body)
	}

	// The broker can answer 200 with an errors array; that is still a failure.
	if len(body.Errors) > 0 {
		msg := strings.Join(errorMessages(body.Errors), "\n")
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, protocolError(TwitterID, msg, resp.Body)
	}
	if !resp.ok() {
		return nil, protocolError(TwitterID, "Unknown error", resp.Body)
	}

	return &PostResult{}, nil
}

// errorMessages flattens an errors array of strings or {message} objects.
func errorMessages(raw []json.RawMessage) []string {
	msgs := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			msgs = append(msgs, s)
			continue
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(r, &obj); err == nil && obj.Message != "" {
			msgs = append(msgs, obj.Message)
			continue
		}
		msgs = append(msgs, string(r))
	}
	return msgs
}
