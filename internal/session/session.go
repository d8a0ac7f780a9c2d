// Package session keeps the per-profile login state adapters post with:
// browser cookies and site credentials.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store persists cookies and credentials per login profile.
type Store interface {
	Cookies(ctx context.Context, profileID string) ([]*http.Cookie, error)
	SaveCookies(ctx context.Context, profileID string, cookies []*http.Cookie) error
	ProfileData(ctx context.Context, profileID, site string) (map[string]string, error)
	SetProfileData(ctx context.Context, profileID, site string, data map[string]string) error
}

// Manager serves login state to the site adapters.
type Manager struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a manager. timeout bounds HitURL requests.
func NewManager(store Store, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{store: store, timeout: timeout, now: time.Now}
}

// Cookies returns the live cookies of a profile that apply to baseURL.
func (m *Manager) Cookies(ctx context.Context, profileID, baseURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	all, err := m.store.Cookies(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return matching(all, u, m.now()), nil
}

// SaveCookies stores cookies captured for a profile.
func (m *Manager) SaveCookies(ctx context.Context, profileID string, cookies []*http.Cookie) error {
	return m.store.SaveCookies(ctx, profileID, cookies)
}

// Data returns the credentials of a profile on a site, nil when none are stored.
func (m *Manager) Data(ctx context.Context, profileID, site string) (map[string]string, error) {
	return m.store.ProfileData(ctx, profileID, site)
}

// StoreData replaces the credentials of a profile on a site; nil clears them.
func (m *Manager) StoreData(ctx context.Context, profileID, site string, data map[string]string) error {
	return m.store.SetProfileData(ctx, profileID, site, data)
}

// HitURL visits rawURL with the profile's cookies and keeps every cookie the
// site sets along the way, redirects included. Sites that rotate session
// cookies on each visit stay logged in this way.
func (m *Manager) HitURL(ctx context.Context, profileID, rawURL string) error {
	jar := &profileJar{now: m.now}
	all, err := m.store.Cookies(ctx, profileID)
	if err != nil {
		return err
	}
	jar.stored = all

	client := &http.Client{Timeout: m.timeout, Jar: jar}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("hit url: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	set := jar.captured()
	if len(set) == 0 {
		return nil
	}
	slog.Debug("session cookies refreshed", "profile", profileID, "url", rawURL, "count", len(set))
	return m.store.SaveCookies(ctx, profileID, set)
}

// ImportCookies reads a Netscape cookies.txt export into a profile.
func (m *Manager) ImportCookies(ctx context.Context, profileID string, r io.Reader) (int, error) {
	cookies, err := ParseNetscape(r)
	if err != nil {
		return 0, err
	}
	if err := m.store.SaveCookies(ctx, profileID, cookies); err != nil {
		return 0, err
	}
	return len(cookies), nil
}

// ParseNetscape parses the tab separated cookies.txt format browsers export.
func ParseNetscape(r io.Reader) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())

		httpOnly := false
		if rest, ok := strings.CutPrefix(text, "#HttpOnly_"); ok {
			text = rest
			httpOnly = true
		}
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: expected 7 fields, got %d", line, len(fields))
		}

		c := &http.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    fields[6],
			HttpOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			c.Expires = time.Unix(exp, 0).UTC()
		}
		cookies = append(cookies, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

// matching returns the unexpired cookies that a request to u would carry.
func matching(cookies []*http.Cookie, u *url.URL, now time.Time) []*http.Cookie {
	host := strings.ToLower(u.Hostname())
	path := u.Path
	if path == "" {
		path = "/"
	}

	var out []*http.Cookie
	for _, c := range cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if domain != "" && host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if c.Path != "" && c.Path != "/" && !strings.HasPrefix(path, c.Path) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// profileJar serves stored cookies to one client and records what the sites set.
type profileJar struct {
	now func() time.Time

	mu     sync.Mutex
	stored []*http.Cookie
	set    []*http.Cookie
}

func (j *profileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		c := *c
		if c.Domain == "" {
			c.Domain = u.Hostname()
		}
		switch {
		case c.MaxAge < 0:
			c.Expires = time.Unix(1, 0).UTC()
		case c.MaxAge > 0:
			c.Expires = j.now().Add(time.Duration(c.MaxAge) * time.Second).UTC()
		}
		c.MaxAge = 0
		c.Raw = ""

		j.replace(&c)
	}
}

func (j *profileJar) replace(c *http.Cookie) {
	same := func(o *http.Cookie) bool {
		return strings.EqualFold(strings.TrimPrefix(o.Domain, "."), strings.TrimPrefix(c.Domain, ".")) && o.Name == c.Name
	}
	j.stored = append(dropWhere(j.stored, same), c)
	j.set = append(dropWhere(j.set, same), c)
}

func (j *profileJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*http.Cookie
	for _, c := range matching(j.stored, u, j.now()) {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func (j *profileJar) captured() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*http.Cookie(nil), j.set...)
}

func dropWhere(cookies []*http.Cookie, drop func(*http.Cookie) bool) []*http.Cookie {
	out := cookies[:0:0]
	for _, c := range cookies {
		if !drop(c) {
			out = append(out, c)
		}
	}
	return out
}
