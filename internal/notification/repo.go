package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/store"
)

// Repository persists jobs in the notification_jobs table.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const jobColumns = `id, audience, message, scheduled_at, status, category, target_date, target_time, group_ref, is_broadcast, sent_at, error_detail, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j           Job
		audience    string
		scheduledAt int64
		sentAt      sql.NullInt64
		createdAt   int64
	)
	if err := row.Scan(&j.ID, &audience, &j.Message, &scheduledAt, &j.Status, &j.Category, &j.TargetDate,
		&j.TargetTime, &j.GroupRef, &j.Broadcast, &sentAt, &j.ErrorDetail, &createdAt); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal([]byte(audience), &j.Audience); err != nil {
		return Job{}, fmt.Errorf("decode audience of %s: %w", j.ID, err)
	}
	j.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	if sentAt.Valid {
		t := time.UnixMilli(sentAt.Int64).UTC()
		j.SentAt = &t
	}
	return j, nil
}

// Insert writes a new job. Missing id and created time are filled in.
func (r *Repository) Insert(ctx context.Context, j Job) (Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	audience, err := json.Marshal(j.Audience)
	if err != nil {
		return Job{}, err
	}
	_, err = r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO notification_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?)
	`), j.ID, string(audience), j.Message, j.ScheduledAt.UnixMilli(), string(j.Status), j.Category,
		j.TargetDate, j.TargetTime, j.GroupRef, j.Broadcast, j.CreatedAt.UnixMilli())
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// Get returns a single job by id.
func (r *Repository) Get(ctx context.Context, id string) (Job, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+jobColumns+` FROM notification_jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// List returns jobs matching f, soonest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	var (
		clauses []string
		args    []any
	)
	if f.GroupRef != "" {
		clauses = append(clauses, "group_ref = ?")
		args = append(args, f.GroupRef)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + jobColumns + ` FROM notification_jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY scheduled_at, id LIMIT ?"
	args = append(args, limit)
	return r.query(ctx, query, args...)
}

// ListPending returns pending jobs in any of categories (all when empty), optionally within one group.
func (r *Repository) ListPending(ctx context.Context, categories []string, groupRef string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE status = ?`
	args := []any{string(StatusPending)}
	if len(categories) > 0 {
		query += " AND category IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(categories)), ", ") + ")"
		for _, c := range categories {
			args = append(args, c)
		}
	}
	if groupRef != "" {
		query += " AND group_ref = ?"
		args = append(args, groupRef)
	}
	query += " ORDER BY scheduled_at, id"
	return r.query(ctx, query, args...)
}

// Due returns pending jobs scheduled at or before now.
func (r *Repository) Due(ctx context.Context, now time.Time) ([]Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM notification_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at, id`, string(StatusPending), now.UnixMilli())
}

// Transition moves a pending job to a terminal status. It returns false when the job was not
// pending anymore; the conditional update keeps transitions monotone without application locks.
func (r *Repository) Transition(ctx context.Context, id string, to Status, sentAt *time.Time, detail string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("%w: cannot transition to %q", ErrInvalidJob, to)
	}
	var sent any
	if sentAt != nil {
		sent = sentAt.UnixMilli()
	}
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE notification_jobs
		SET status = ?, sent_at = COALESCE(?, sent_at), error_detail = ?
		WHERE id = ? AND status = ?
	`), string(to), sent, detail, id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
