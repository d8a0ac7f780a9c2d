package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/abdulachik/multipost/internal/submission"
)

// ErrNotFound is returned when a submission does not exist.
var ErrNotFound = errors.New("submission not found")

var submissionColumns = []string{
	"id", "title", "rating", "type", "form_data", "problems",
	"queued", "scheduled", "schedule_at", "created_at", "updated_at",
}

var fileColumns = []string{
	"submission_id", "position", "name", "mime_type", "size", "width", "height", "blob_key",
}

// GetSubmissions returns every submission, oldest first. File contents are
// not loaded.
func (s *Store) GetSubmissions(ctx context.Context) ([]*submission.Submission, error) {
	return s.selectSubmissions(ctx, s.builder().Select(submissionColumns...).
		From("submissions").
		OrderBy("created_at", "rowid"), false)
}

// GetSubmission returns one submission with its file contents.
func (s *Store) GetSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	subs, err := s.selectSubmissions(ctx, s.builder().Select(submissionColumns...).
		From("submissions").
		Where(sq.Eq{"id": id}), true)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return subs[0], nil
}

// ListDueScheduled returns scheduled submissions whose time has come, with
// their file contents.
func (s *Store) ListDueScheduled(ctx context.Context) ([]*submission.Submission, error) {
	return s.selectSubmissions(ctx, s.builder().Select(submissionColumns...).
		From("submissions").
		Where(sq.Eq{"scheduled": true, "queued": false}).
		Where(sq.NotEq{"schedule_at": ""}).
		Where(sq.LtOrEq{"schedule_at": formatTime(s.now())}).
		OrderBy("schedule_at", "rowid"), true)
}

// CreateSubmissions stores drafts, their files and their problems.
// Submissions are returned in input order with fresh ids.
func (s *Store) CreateSubmissions(ctx context.Context, drafts []submission.Draft) ([]*submission.Submission, error) {
	now := s.now().UTC()
	created := make([]*submission.Submission, 0, len(drafts))
	var keys []string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range drafts {
			sub := &submission.Submission{
				ID:         uuid.NewString(),
				Title:      d.Title,
				Rating:     d.Rating,
				Type:       d.Type,
				Primary:    d.Primary,
				Additional: d.Additional,
				FormData:   d.FormData,
				Problems:   []string{},
				Scheduled:  d.Scheduled,
				ScheduleAt: d.ScheduleAt,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if sub.Type == "" {
				sub.Type = submission.TypeSubmission
			}
			s.refreshProblems(sub)

			if err := s.insertSubmission(ctx, tx, sub); err != nil {
				return err
			}
			written, err := s.insertFiles(ctx, tx, sub)
			keys = append(keys, written...)
			if err != nil {
				return err
			}
			created = append(created, sub)
		}
		return nil
	})
	if err != nil {
		s.deleteBlobs(ctx, keys)
		return nil, err
	}

	slog.Debug("submissions created", "count", len(created))
	s.publish(ctx)
	return created, nil
}

// UpdateSubmission saves the editable fields of sub and its recomputed
// problems. Files are not changed.
func (s *Store) UpdateSubmission(ctx context.Context, sub *submission.Submission) error {
	s.refreshProblems(sub)
	form, problems, err := encodeForm(sub)
	if err != nil {
		return err
	}
	sub.UpdatedAt = s.now().UTC()

	query, args, err := s.builder().Update("submissions").SetMap(map[string]any{
		"title":       sub.Title,
		"rating":      string(sub.Rating),
		"type":        string(sub.Type),
		"form_data":   form,
		"problems":    problems,
		"scheduled":   sub.Scheduled,
		"schedule_at": formatTime(sub.ScheduleAt),
		"updated_at":  formatTime(sub.UpdatedAt),
	}).Where(sq.Eq{"id": sub.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if err := s.execOne(ctx, query, args, sub.ID); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// SetQueued persists the queued flag of a submission.
func (s *Store) SetQueued(ctx context.Context, id string, queued bool) error {
	query, args, err := s.builder().Update("submissions").
		Set("queued", queued).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if err := s.execOne(ctx, query, args, id); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// SetProblems stores the validation output of a submission.
func (s *Store) SetProblems(ctx context.Context, id string, problems []string) error {
	list := problems
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode problems: %w", err)
	}

	query, args, err := s.builder().Update("submissions").
		Set("problems", string(data)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if err := s.execOne(ctx, query, args, id); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// ClearScheduled drops the schedule of a submission once it has been queued.
func (s *Store) ClearScheduled(ctx context.Context, id string) error {
	query, args, err := s.builder().Update("submissions").
		SetMap(map[string]any{"scheduled": false, "schedule_at": ""}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if err := s.execOne(ctx, query, args, id); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// ResetQueued clears every queued flag. The queue lives in memory, so flags
// left over from a previous run are stale.
func (s *Store) ResetQueued(ctx context.Context) (int64, error) {
	query, args, err := s.builder().Update("submissions").
		Set("queued", false).
		Where(sq.Eq{"queued": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset queued: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.publish(ctx)
	}
	return n, nil
}

// Delete removes submissions and their files. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	keys, err := s.blobKeys(ctx, ids)
	if err != nil {
		return err
	}

	query, args, err := s.builder().Delete("submissions").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}

	s.deleteBlobs(ctx, keys)
	slog.Debug("submissions deleted", "count", len(ids))
	s.publish(ctx)
	return nil
}

// Changes streams the full submission list after every change, primed with
// the current list. Slow readers only see the latest list.
func (s *Store) Changes(ctx context.Context) (<-chan []*submission.Submission, func(), error) {
	subs, err := s.GetSubmissions(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.changes.Subscribe(subs)
	return ch, cancel, nil
}

func (s *Store) publish(ctx context.Context) {
	if s.changes.Len() == 0 {
		return
	}
	subs, err := s.GetSubmissions(ctx)
	if err != nil {
		slog.Error("failed to load submissions for change stream", "error", err)
		return
	}
	s.changes.Publish(subs)
}

func (s *Store) refreshProblems(sub *submission.Submission) {
	if s.validator == nil {
		return
	}
	s.validator.Refresh(sub)
}

func (s *Store) insertSubmission(ctx context.Context, tx *sql.Tx, sub *submission.Submission) error {
	form, problems, err := encodeForm(sub)
	if err != nil {
		return err
	}

	query, args, err := s.builder().Insert("submissions").Columns(submissionColumns...).Values(
		sub.ID, sub.Title, string(sub.Rating), string(sub.Type), form, problems,
		sub.Queued, sub.Scheduled, formatTime(sub.ScheduleAt),
		formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// insertFiles writes file contents to the blob store and their metadata to
// tx. It returns the keys written so far, also on failure.
func (s *Store) insertFiles(ctx context.Context, tx *sql.Tx, sub *submission.Submission) ([]string, error) {
	files := sub.Files()
	if len(files) == 0 {
		return nil, nil
	}

	var keys []string
	insert := s.builder().Insert("submission_files").Columns(fileColumns...)
	for i, f := range files {
		key := sub.ID + "/" + strconv.Itoa(i) + "-" + f.Name
		if err := s.blobs.Put(ctx, key, f.Buffer, f.Type); err != nil {
			return keys, fmt.Errorf("store file %s: %w", f.Name, err)
		}
		keys = append(keys, key)
		insert = insert.Values(sub.ID, i, f.Name, f.Type, f.Size, f.Width, f.Height, key)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return keys, fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return keys, fmt.Errorf("insert files: %w", err)
	}
	return keys, nil
}

func (s *Store) selectSubmissions(ctx context.Context, b sq.SelectBuilder, withContents bool) ([]*submission.Submission, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var (
		subs []*submission.Submission
		ids  []string
	)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
		ids = append(ids, sub.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	rows.Close()

	if len(subs) == 0 {
		return subs, nil
	}
	if err := s.attachFiles(ctx, subs, ids, withContents); err != nil {
		return nil, err
	}
	return subs, nil
}

func scanSubmission(rows *sql.Rows) (*submission.Submission, error) {
	var (
		sub                              submission.Submission
		rating, typ, form, problems      string
		scheduleAt, createdAt, updatedAt string
	)
	if err := rows.Scan(
		&sub.ID, &sub.Title, &rating, &typ, &form, &problems,
		&sub.Queued, &sub.Scheduled, &scheduleAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	sub.Rating = submission.Rating(rating)
	sub.Type = submission.Type(typ)

	if err := json.Unmarshal([]byte(form), &sub.FormData); err != nil {
		return nil, fmt.Errorf("decode form data of %s: %w", sub.ID, err)
	}
	if err := json.Unmarshal([]byte(problems), &sub.Problems); err != nil {
		return nil, fmt.Errorf("decode problems of %s: %w", sub.ID, err)
	}

	var err error
	if sub.ScheduleAt, err = parseTime(scheduleAt); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) attachFiles(ctx context.Context, subs []*submission.Submission, ids []string, withContents bool) error {
	query, args, err := s.builder().Select(fileColumns...).
		From("submission_files").
		Where(sq.Eq{"submission_id": ids}).
		OrderBy("submission_id", "position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*submission.Submission, len(subs))
	for _, sub := range subs {
		byID[sub.ID] = sub
	}

	type stored struct {
		sub  *submission.Submission
		pos  int
		file submission.File
		key  string
	}
	var files []stored
	for rows.Next() {
		var (
			f        stored
			parentID string
		)
		if err := rows.Scan(&parentID, &f.pos, &f.file.Name, &f.file.Type,
			&f.file.Size, &f.file.Width, &f.file.Height, &f.key); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		f.sub = byID[parentID]
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate files: %w", err)
	}
	rows.Close()

	for _, f := range files {
		if withContents {
			data, err := s.blobs.Get(ctx, f.key)
			if err != nil {
				return fmt.Errorf("load file %s of %s: %w", f.file.Name, f.sub.ID, err)
			}
			f.file.Buffer = data
		}
		if f.pos == 0 {
			primary := f.file
			f.sub.Primary = &primary
			continue
		}
		f.sub.Additional = append(f.sub.Additional, f.file)
	}
	return nil
}

func (s *Store) blobKeys(ctx context.Context, ids []string) ([]string, error) {
	query, args, err := s.builder().Select("blob_key").
		From("submission_files").
		Where(sq.Eq{"submission_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blob keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan blob key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// deleteBlobs logs failures; an orphaned blob is harmless.
func (s *Store) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete blob", "key", key, "error", err)
		}
	}
}

func (s *Store) execOne(ctx context.Context, query string, args []any, id string) error {
	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func encodeForm(sub *submission.Submission) (string, string, error) {
	form := []byte("null")
	if sub.FormData != nil {
		var err error
		if form, err = json.Marshal(sub.FormData); err != nil {
			return "", "", fmt.Errorf("encode form data: %w", err)
		}
	}

	list := sub.Problems
	if list == nil {
		list = []string{}
	}
	problems, err := json.Marshal(list)
	if err != nil {
		return "", "", fmt.Errorf("encode problems: %w", err)
	}
	return string(form), string(problems), nil
}
