package website

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/abdulachik/multipost/internal/submission"
)

const (
	BlueskyID = "Bluesky"

	// BlueskyMaxLength is the maximum character count for a Bluesky post.
	BlueskyMaxLength = 300

	blueskyBaseURL   = "https://bsky.social/xrpc"
	blueskyMaxImages = 4
	blueskyMaxBlob   = 1_000_000
)

var blueskyAcceptedFiles = []string{"png", "jpeg", "jpg", "gif", "webp"}

// BlueskyDescriptor returns the static metadata of the Bluesky adapter.
func BlueskyDescriptor() Descriptor {
	return Descriptor{
		ID:                 BlueskyID,
		DisplayName:        "Bluesky",
		AcceptedFiles:      blueskyAcceptedFiles,
		MaxAdditionalFiles: blueskyMaxImages - 1,
		SupportsJournal:    true,
		Login:              Login{URL: "https://bsky.app/settings/app-passwords", Dialog: "bluesky-app-password"},
		Parsers:            []DescriptionParser{ParsePlaintext},
		DisableAdvertise:   true,
		UsernameShortcut: &Shortcut{
			Code: "bs",
			URL:  "https://bsky.app/profile/$1",
		},
		Protocol: "XRPC: com.atproto.server.createSession, com.atproto.repo.uploadBlob, " +
			"com.atproto.repo.createRecord with app.bsky.embed.images",
	}
}

type blueskySession struct {
	did         string
	handle      string
	accessToken string
}

// Bluesky posts via the AT Protocol using the app password stored on a profile.
type Bluesky struct {
	client   *client
	sessions Sessions
	baseURL  string

	mu     sync.Mutex
	tokens map[string]blueskySession
}

// BlueskyConfig holds configuration for the Bluesky adapter.
type BlueskyConfig struct {
	BaseURL  string
	Sessions Sessions
	Client   ClientConfig
}

// NewBluesky creates a new Bluesky adapter.
func NewBluesky(cfg BlueskyConfig) *Bluesky {
	base := cfg.BaseURL
	if base == "" {
		base = blueskyBaseURL
	}
	return &Bluesky{
		client:   newClient(BlueskyID, cfg.Client),
		sessions: cfg.Sessions,
		baseURL:  strings.TrimSuffix(base, "/"),
		tokens:   make(map[string]blueskySession),
	}
}

// ID returns the site id.
func (b *Bluesky) ID() string {
	return BlueskyID
}

// CheckStatus authenticates with the stored app password.
func (b *Bluesky) CheckStatus(ctx context.Context, profileID string) Status {
	sess, err := b.authenticate(ctx, profileID)
	if err != nil {
		slog.Debug("bluesky status check failed", "profile", profileID, "error", err)
		return Status{Status: LoggedOut}
	}
	return Status{Status: LoggedIn, Username: sess.handle}
}

// Unauthorize drops the cached session. The app password stays stored and is
// exchanged for a fresh session on the next post.
func (b *Bluesky) Unauthorize(ctx context.Context, profileID string) error {
	b.forget(profileID)
	return nil
}

// Validate checks file types. Oversized images are downscaled when posting.
func (b *Bluesky) Validate(sub *submission.Submission, form submission.SiteForm) []Problem {
	return validateFiles(sub, BlueskyID, blueskyAcceptedFiles, blueskyMaxImages-1)
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	AccessJwt string `json:"accessJwt"`
}

func (b *Bluesky) authenticate(ctx context.Context, profileID string) (blueskySession, error) {
	b.mu.Lock()
	sess, ok := b.tokens[profileID]
	b.mu.Unlock()
	if ok {
		return sess, nil
	}

	creds, err := b.sessions.Data(ctx, profileID, BlueskyID)
	if err != nil || creds["handle"] == "" || creds["appPassword"] == "" {
		return blueskySession{}, authError(BlueskyID, "no app password stored", nil)
	}

	resp, err := b.client.postJSON(ctx, b.baseURL+"/com.atproto.server.createSession", createSessionRequest{
		Identifier: creds["handle"],
		Password:   creds["appPassword"],
	}, nil)
	if err != nil {
		return blueskySession{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return blueskySession{}, authError(BlueskyID, "authentication failed", resp.Body)
	}
	if resp.StatusCode != http.StatusOK {
		return blueskySession{}, protocolError(BlueskyID, fmt.Sprintf("authentication failed (status %d)", resp.StatusCode), resp.Body)
	}

	var created createSessionResponse
	if err := json.Unmarshal(resp.Body, &created); err != nil || created.AccessJwt == "" {
		return blueskySession{}, protocolError(BlueskyID, "parse session response", resp.Body)
	}

	sess = blueskySession{did: created.DID, handle: created.Handle, accessToken: created.AccessJwt}
	b.mu.Lock()
	b.tokens[profileID] = sess
	b.mu.Unlock()

	slog.Debug("authenticated with Bluesky", "handle", sess.handle, "did", sess.did)
	return sess, nil
}

func (b *Bluesky) forget(profileID string) {
	b.mu.Lock()
	delete(b.tokens, profileID)
	b.mu.Unlock()
}

type blobRef struct {
	Type     string          `json:"$type"`
	Ref      json.RawMessage `json:"ref"`
	MimeType string          `json:"mimeType"`
	Size     int             `json:"size"`
}

type uploadBlobResponse struct {
	Blob blobRef `json:"blob"`
}

type embedImage struct {
	Alt   string  `json:"alt"`
	Image blobRef `json:"image"`
}

type embedImages struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
}

type selfLabel struct {
	Val string `json:"val"`
}

type selfLabels struct {
	Type   string      `json:"$type"`
	Values []selfLabel `json:"values"`
}

type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Langs     []string     `json:"langs,omitempty"`
	Embed     *embedImages `json:"embed,omitempty"`
	Labels    *selfLabels  `json:"labels,omitempty"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Post publishes the post, uploading up to four images first. Journals are text only.
func (b *Bluesky) Post(ctx context.Context, sub *submission.Submission, data PostData) (*PostResult, error) {
	sess, err := b.authenticate(ctx, data.ProfileID)
	if err != nil {
		return nil, err
	}

	record := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      blueskyText(data),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Langs:     []string{"en"},
		Labels:    blueskyLabels(data.Rating),
	}

	if data.Type != submission.TypeJournal {
		var images []embedImage
		for _, f := range data.Files() {
			if len(images) == blueskyMaxImages {
				break
			}
			if err := data.Cancelled(); err != nil {
				return nil, err
			}
			blob, err := b.uploadBlob(ctx, sess, f)
			if err != nil {
				return nil, err
			}
			images = append(images, embedImage{Alt: data.Title, Image: blob})
		}
		if len(images) > 0 {
			record.Embed = &embedImages{Type: "app.bsky.embed.images", Images: images}
		}
	}

	if err := data.Cancelled(); err != nil {
		return nil, err
	}

	resp, err := b.client.postJSON(ctx, b.baseURL+"/com.atproto.repo.createRecord", createRecordRequest{
		Repo:       sess.did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}, b.authHeader(sess))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		b.forget(data.ProfileID)
		return nil, authError(BlueskyID, "session rejected", resp.Body)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, protocolError(BlueskyID, fmt.Sprintf("post failed (status %d)", resp.StatusCode), resp.Body)
	}

	var created createRecordResponse
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return nil, protocolError(BlueskyID, "parse response", resp.Body)
	}

	// URI format: at://did:plc:xxx/app.bsky.feed.post/rkey
	// URL format: https://bsky.app/profile/handle/post/rkey
	postURL := ""
	if parts := splitURI(created.URI); len(parts) >= 3 {
		postURL = fmt.Sprintf("https://bsky.app/profile/%s/post/%s", sess.handle, parts[len(parts)-1])
	}

	slog.Info("posted to Bluesky", "uri", created.URI, "url", postURL)

	return &PostResult{PostID: created.URI, PostURL: postURL}, nil
}

func (b *Bluesky) uploadBlob(ctx context.Context, sess blueskySession, f submission.File) (blobRef, error) {
	body, mime, err := fitBlob(f, blueskyMaxBlob)
	if err != nil {
		return blobRef{}, protocolError(BlueskyID, fmt.Sprintf("prepare image %s: %v", f.Name, err), nil)
	}

	resp, err := b.client.do(ctx, request{
		method:      http.MethodPost,
		url:         b.baseURL + "/com.atproto.repo.uploadBlob",
		body:        bytes.NewReader(body),
		contentType: mime,
		headers:     b.authHeader(sess),
	})
	if err != nil {
		return blobRef{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return blobRef{}, protocolError(BlueskyID, fmt.Sprintf("upload failed (status %d)", resp.StatusCode), resp.Body)
	}

	var uploaded uploadBlobResponse
	if err := json.Unmarshal(resp.Body, &uploaded); err != nil {
		return blobRef{}, protocolError(BlueskyID, "parse upload response", resp.Body)
	}
	return uploaded.Blob, nil
}

func (b *Bluesky) authHeader(sess blueskySession) map[string]string {
	return map[string]string{"Authorization": "Bearer " + sess.accessToken}
}

// fitBlob returns the file bytes unchanged when they fit in limit, otherwise a
// JPEG re-encode downscaled until it does.
func fitBlob(f submission.File, limit int) ([]byte, string, error) {
	if len(f.Buffer) <= limit {
		return f.Buffer, f.Type, nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.Buffer), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}

	width := img.Bounds().Dx()
	for width > 64 {
		var buf bytes.Buffer
		var scaled image.Image = img
		if width < img.Bounds().Dx() {
			scaled = imaging.Resize(img, width, 0, imaging.Lanczos)
		}
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", fmt.Errorf("encode: %w", err)
		}
		if buf.Len() <= limit {
			return buf.Bytes(), "image/jpeg", nil
		}
		width = width * 3 / 4
	}
	return nil, "", fmt.Errorf("cannot fit image in %d bytes", limit)
}

// blueskyText is the plain description followed by hashtags, within the post limit.
func blueskyText(data PostData) string {
	text := strings.TrimSpace(data.Description)
	if tags := FormatHashtags(data.Tags); tags != "" {
		candidate := strings.TrimSpace(text + "\n\n" + tags)
		if FitsInLimit(candidate, BlueskyMaxLength) {
			return candidate
		}
	}
	if text == "" {
		text = data.Title
	}
	return Truncate(text, BlueskyMaxLength)
}

func blueskyLabels(r submission.Rating) *selfLabels {
	var val string
	switch r {
	case submission.RatingMature:
		val = "sexual"
	case submission.RatingExtreme:
		val = "porn"
	default:
		return nil
	}
	return &selfLabels{Type: "com.atproto.label.defs#selfLabels", Values: []selfLabel{{Val: val}}}
}

// splitURI splits an AT Protocol URI into its path segments.
func splitURI(uri string) []string {
	uri = strings.TrimPrefix(uri, "at://")
	var parts []string
	for _, p := range strings.Split(uri, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
