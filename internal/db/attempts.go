package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Attempt is the recorded outcome of posting a submission to one site.
type Attempt struct {
	ID           int64     `json:"id"`
	EntryID      string    `json:"entryId"`
	SubmissionID string    `json:"submissionId"`
	Site         string    `json:"site"`
	OK           bool      `json:"ok"`
	Kind         string    `json:"kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	PostID       string    `json:"postId,omitempty"`
	PostURL      string    `json:"postUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AttemptFilter narrows attempt queries. Zero fields match everything.
type AttemptFilter struct {
	SubmissionID string
	Site         string
	OK           *bool
	Since        time.Time
}

func (f AttemptFilter) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if f.SubmissionID != "" {
		b = b.Where(sq.Eq{"submission_id": f.SubmissionID})
	}
	if f.Site != "" {
		b = b.Where(sq.Eq{"site": f.Site})
	}
	if f.OK != nil {
		b = b.Where(sq.Eq{"ok": *f.OK})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": formatTime(f.Since)})
	}
	return b
}

// RecordAttempts stores the post history of one queue entry.
func (s *Store) RecordAttempts(ctx context.Context, attempts []Attempt) error {
	if len(attempts) == 0 {
		return nil
	}

	insert := s.builder().Insert("post_attempts").Columns(
		"entry_id", "submission_id", "site", "ok", "kind", "message",
		"payload", "post_id", "post_url", "created_at",
	)
	for _, a := range attempts {
		created := a.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		insert = insert.Values(a.EntryID, a.SubmissionID, a.Site, a.OK, a.Kind, a.Message,
			a.Payload, a.PostID, a.PostURL, formatTime(created))
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("record attempts: %w", err)
		}
		return nil
	})
}

// CountAttempts counts the attempts matching f.
func (s *Store) CountAttempts(ctx context.Context, f AttemptFilter) (int64, error) {
	query, args, err := f.apply(s.builder().Select("COUNT(*)").From("post_attempts")).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := s.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// ListAttempts returns the attempts matching f, newest first.
func (s *Store) ListAttempts(ctx context.Context, f AttemptFilter, limit uint64) ([]Attempt, error) {
	b := f.apply(s.builder().Select(
		"id", "entry_id", "submission_id", "site", "ok", "kind", "message",
		"payload", "post_id", "post_url", "created_at",
	).From("post_attempts")).OrderBy("id DESC")
	if limit > 0 {
		b = b.Limit(limit)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a       Attempt
			created string
		)
		if err := rows.Scan(&a.ID, &a.EntryID, &a.SubmissionID, &a.Site, &a.OK, &a.Kind,
			&a.Message, &a.Payload, &a.PostID, &a.PostURL, &created); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
