package website

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "multipost/1.0"
)

// ClientConfig tunes the HTTP client each adapter owns.
type ClientConfig struct {
	// Timeout bounds a single request, connection through body.
	Timeout time.Duration
	// RateLimit is the request rate per second against one site; zero disables it.
	RateLimit float64
	Burst     int
	UserAgent string
	// HTTPClient overrides the underlying client, mostly for tests.
	HTTPClient *http.Client
}

// client performs throttled requests against one site.
type client struct {
	site       string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

func newClient(site string, cfg ClientConfig) *client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &client{
		site:       site,
		httpClient: hc,
		userAgent:  cfg.UserAgent,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
	headers     map[string]string
	cookies     []*http.Cookie
}

type response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// URL is the final URL after redirects.
	URL string
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// do sends the request. Transport failures come back as *PostError; HTTP
// error statuses are left for the caller to interpret.
func (c *client) do(ctx context.Context, r request) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError(c.site, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, protocolError(c.site, fmt.Sprintf("create request: %v", err), nil)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range r.cookies {
		req.AddCookie(ck)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(c.site, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c.site, fmt.Errorf("read response: %w", err))
	}

	return &response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (c *client) get(ctx context.Context, u string, cookies []*http.Cookie, headers map[string]string) (*response, error) {
	return c.do(ctx, request{method: http.MethodGet, url: u, cookies: cookies, headers: headers})
}

func (c *client) postForm(ctx context.Context, u string, form url.Values, cookies []*http.Cookie, headers map[string]string) (*response, error) {
	return c.do(ctx, request{
		method:      http.MethodPost,
		url:         u,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		cookies:     cookies,
		headers:     headers,
	})
}

func (c *client) postJSON(ctx context.Context, u string, payload any, headers map[string]string) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, protocolError(c.site, fmt.Sprintf("marshal request: %v", err), nil)
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		url:         u,
		body:        bytes.NewReader(body),
		contentType: "application/json",
		headers:     headers,
	})
}

// formField is one ordered multipart or form field; repeated names are allowed.
type formField struct {
	Name  string
	Value string
}

// formFile is one multipart file part.
type formFile struct {
	Field string
	Name  string
	Type  string
	Data  []byte
}

func (c *client) postMultipart(ctx context.Context, u string, fields []formField, files []formFile, cookies []*http.Cookie, headers map[string]string) (*response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, protocolError(c.site, fmt.Sprintf("write field %s: %v", f.Name, err), nil)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
		ct := f.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, protocolError(c.site, fmt.Sprintf("create part %s: %v", f.Field, err), nil)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, protocolError(c.site, fmt.Sprintf("write part %s: %v", f.Field, err), nil)
		}
	}
	if err := w.Close(); err != nil {
		return nil, protocolError(c.site, fmt.Sprintf("close multipart: %v", err), nil)
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		url:         u,
		body:        &buf,
		contentType: w.FormDataContentType(),
		cookies:     cookies,
		headers:     headers,
	})
}

func fieldsToValues(fields []formField) url.Values {
	v := url.Values{}
	for _, f := range fields {
		v.Add(f.Name, f.Value)
	}
	return v
}
