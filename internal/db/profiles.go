package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sq "github.com/Masterminds/squirrel"
)

// Cookies returns every stored cookie of a login profile.
func (s *Store) Cookies(ctx context.Context, profileID string) ([]*http.Cookie, error) {
	query, args, err := s.builder().
		Select("domain", "name", "value", "path", "expires", "secure", "http_only").
		From("cookies").
		Where(sq.Eq{"profile_id": profileID}).
		OrderBy("domain", "name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cookies: %w", err)
	}
	defer rows.Close()

	var cookies []*http.Cookie
	for rows.Next() {
		var (
			c       http.Cookie
			expires string
		)
		if err := rows.Scan(&c.Domain, &c.Name, &c.Value, &c.Path, &expires, &c.Secure, &c.HttpOnly); err != nil {
			return nil, fmt.Errorf("scan cookie: %w", err)
		}
		if c.Expires, err = parseTime(expires); err != nil {
			return nil, err
		}
		cookies = append(cookies, &c)
	}
	return cookies, rows.Err()
}

// SaveCookies upserts cookies of a login profile, keyed by domain and name.
func (s *Store) SaveCookies(ctx context.Context, profileID string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	// One statement cannot upsert the same row twice; the last cookie wins.
	type cookieKey struct{ domain, name string }
	latest := make(map[cookieKey]int, len(cookies))
	for i, c := range cookies {
		latest[cookieKey{c.Domain, c.Name}] = i
	}

	insert := s.builder().Insert("cookies").
		Columns("profile_id", "domain", "name", "value", "path", "expires", "secure", "http_only")
	for i, c := range cookies {
		if latest[cookieKey{c.Domain, c.Name}] != i {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		insert = insert.Values(profileID, c.Domain, c.Name, c.Value, path, formatTime(c.Expires), c.Secure, c.HttpOnly)
	}
	insert = insert.Suffix(`ON CONFLICT (profile_id, domain, name) DO UPDATE SET
		value = excluded.value,
		path = excluded.path,
		expires = excluded.expires,
		secure = excluded.secure,
		http_only = excluded.http_only`)

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}

// DeleteCookies removes the cookies of a profile for one domain, or all of
// them when domain is empty.
func (s *Store) DeleteCookies(ctx context.Context, profileID, domain string) error {
	del := s.builder().Delete("cookies").Where(sq.Eq{"profile_id": profileID})
	if domain != "" {
		del = del.Where(sq.Eq{"domain": domain})
	}
	query, args, err := del.ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete cookies: %w", err)
	}
	return nil
}

// ProfileData returns the credentials stored for a profile on a site, or nil.
func (s *Store) ProfileData(ctx context.Context, profileID, site string) (map[string]string, error) {
	query, args, err := s.builder().Select("data").
		From("profile_data").
		Where(sq.Eq{"profile_id": profileID, "site": site}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var raw string
	err = s.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile data: %w", err)
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode profile data: %w", err)
	}
	return data, nil
}

// SetProfileData replaces the credentials of a profile on a site. Nil data
// deletes them.
func (s *Store) SetProfileData(ctx context.Context, profileID, site string, data map[string]string) error {
	if data == nil {
		query, args, err := s.builder().Delete("profile_data").
			Where(sq.Eq{"profile_id": profileID, "site": site}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := s.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete profile data: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode profile data: %w", err)
	}

	query, args, err := s.builder().Insert("profile_data").
		Columns("profile_id", "site", "data", "updated_at").
		Values(profileID, site, string(raw), formatTime(s.now())).
		Suffix("ON CONFLICT (profile_id, site) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save profile data: %w", err)
	}
	return nil
}

// Profiles returns the ids of every profile with stored cookies or data.
func (s *Store) Profiles(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT profile_id FROM cookies
		UNION
		SELECT profile_id FROM profile_data
		ORDER BY profile_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
