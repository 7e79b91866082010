package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Store is the persistence surface the scheduler and executor need.
type Store interface {
	Insert(ctx context.Context, j Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, f Filter) ([]Job, error)
	ListPending(ctx context.Context, categories []string, groupRef string) ([]Job, error)
	Due(ctx context.Context, now time.Time) ([]Job, error)
	Transition(ctx context.Context, id string, to Status, sentAt *time.Time, detail string) (bool, error)
}

// Scheduler validates and manages jobs on top of a Store.
type Scheduler struct {
	store Store
	now   func() time.Time
	leads map[string]time.Duration
	loc   *time.Location
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLeadTimes registers the fixed lead time of lead-time-based categories, used to derive a
// target instant for jobs lacking an explicit target date.
func WithLeadTimes(leads map[string]time.Duration) Option {
	return func(s *Scheduler) {
		for k, v := range leads {
			s.leads[k] = v
		}
	}
}

// WithLocation sets the zone target dates and times are expressed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		now:   time.Now,
		leads: make(map[string]time.Duration),
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone target dates are expressed in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Create validates j and stores it as pending.
func (s *Scheduler) Create(ctx context.Context, j Job) (Job, error) {
	j.Message = strings.TrimSpace(j.Message)
	if j.Message == "" {
		return Job{}, fmt.Errorf("%w: message required", ErrInvalidJob)
	}
	audience := make([]string, 0, len(j.Audience))
	for _, phone := range j.Audience {
		if phone = strings.TrimSpace(phone); phone != "" {
			audience = append(audience, phone)
		}
	}
	if len(audience) == 0 {
		return Job{}, fmt.Errorf("%w: audience required", ErrInvalidJob)
	}
	if j.ScheduledAt.IsZero() {
		return Job{}, fmt.Errorf("%w: scheduled time required", ErrInvalidJob)
	}
	now := s.now()
	if !j.ScheduledAt.After(now) {
		return Job{}, fmt.Errorf("%w: %w", ErrInvalidJob, ErrScheduledInPast)
	}
	if j.TargetDate != "" {
		if _, err := time.ParseInLocation("2006-01-02", j.TargetDate, s.loc); err != nil {
			return Job{}, fmt.Errorf("%w: target date %q", ErrInvalidJob, j.TargetDate)
		}
	}

	j.ID = ""
	j.Audience = audience
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.Status = StatusPending
	j.SentAt = nil
	j.ErrorDetail = ""
	j.CreatedAt = now.UTC()
	return s.store.Insert(ctx, j)
}

// Get returns one job.
func (s *Scheduler) Get(ctx context.Context, id string) (Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching f.
func (s *Scheduler) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidJob, f.Status)
	}
	return s.store.List(ctx, f)
}

// Cancel cancels a pending job. ErrNotFound and ErrConflict leave the job untouched.
func (s *Scheduler) Cancel(ctx context.Context, id string) (Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if j.Status != StatusPending {
		return j, ErrConflict
	}
	ok, err := s.store.Transition(ctx, id, StatusCancelled, nil, "")
	if err != nil {
		return Job{}, err
	}
	if !ok {
		// Lost a race with the executor or another cancel.
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return Job{}, err
		}
		return current, ErrConflict
	}
	j.Status = StatusCancelled
	return j, nil
}

// CancelBulk cancels every pending job matching f and returns how many were cancelled.
func (s *Scheduler) CancelBulk(ctx context.Context, f BulkFilter) (int, error) {
	if f.TargetDate != "" {
		if _, err := time.ParseInLocation("2006-01-02", f.TargetDate, s.loc); err != nil {
			return 0, fmt.Errorf("%w: target date %q", ErrInvalidJob, f.TargetDate)
		}
	}
	candidates, err := s.store.ListPending(ctx, f.Categories, f.GroupRef)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, j := range candidates {
		if !s.matches(j, f) {
			continue
		}
		ok, err := s.store.Transition(ctx, j.ID, StatusCancelled, nil, "")
		if err != nil {
			return cancelled, fmt.Errorf("cancel %s: %w", j.ID, err)
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *Scheduler) matches(j Job, f BulkFilter) bool {
	if f.TargetDate == "" && f.From.IsZero() && f.To.IsZero() {
		return true
	}
	target, date, ok := s.TargetOf(j)
	if f.TargetDate != "" && (date == "" || date != f.TargetDate) {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		if !ok {
			return false
		}
		if !f.From.IsZero() && target.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && !target.Before(f.To) {
			return false
		}
	}
	return true
}

// TargetOf returns the instant and local date a job refers to: the explicit target date/time when
// present, otherwise ScheduledAt plus the category's lead time. ok is false when neither is known.
func (s *Scheduler) TargetOf(j Job) (target time.Time, date string, ok bool) {
	if j.TargetDate != "" {
		layout, value := "2006-01-02", j.TargetDate
		if j.TargetTime != "" {
			layout, value = "2006-01-02 15:04", j.TargetDate+" "+j.TargetTime
		}
		t, err := time.ParseInLocation(layout, value, s.loc)
		if err != nil {
			log.Printf("job %s has unparsable target %q", j.ID, value)
			return time.Time{}, j.TargetDate, false
		}
		return t, j.TargetDate, true
	}
	lead, known := s.leads[j.Category]
	if !known {
		return time.Time{}, "", false
	}
	t := j.ScheduledAt.Add(lead).In(s.loc)
	return t, t.Format("2006-01-02"), true
}
