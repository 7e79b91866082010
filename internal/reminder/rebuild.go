package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"liveclass/internal/calendar"
	"liveclass/internal/metrics"
	"liveclass/internal/notification"
)

// Reminder job categories owned by the rebuilder.
const (
	CategoryClass   = "class_reminder"
	CategoryVehicle = "vehicle_reminder"
)

// Defaults for Config.
const (
	DefaultClassLead   = 2 * time.Hour
	DefaultVehicleLead = 24 * time.Hour
	DefaultWindow      = 90 * 24 * time.Hour
)

// ManagedCategories lists the categories a rebuild clears and regenerates.
var ManagedCategories = []string{CategoryClass, CategoryVehicle}

// Scheduler is the job surface the rebuilder writes through.
type Scheduler interface {
	Create(ctx context.Context, j notification.Job) (notification.Job, error)
	CancelBulk(ctx context.Context, f notification.BulkFilter) (int, error)
}

// EventSource lists calendar events.
type EventSource interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
}

// Locker excludes other processes rewriting reminders in the same job store, such as
// store.Lease. Lock blocks until held and returns the release func.
type Locker interface {
	Lock(ctx context.Context) (func(), error)
}

// Config tunes the rebuilder. Zero values fall back to defaults; a nil Lock serializes calls
// within this process only.
type Config struct {
	ClassLead   time.Duration
	VehicleLead time.Duration
	Window      time.Duration
	Location    *time.Location
	Templates   *Templates
	Now         func() time.Time
	Lock        Locker
}

// LeadTimes returns the lead time per managed category, for notification.WithLeadTimes.
func (c Config) LeadTimes() map[string]time.Duration {
	c = c.withDefaults()
	return map[string]time.Duration{
		CategoryClass:   c.ClassLead,
		CategoryVehicle: c.VehicleLead,
	}
}

func (c Config) withDefaults() Config {
	if c.ClassLead <= 0 {
		c.ClassLead = DefaultClassLead
	}
	if c.VehicleLead <= 0 {
		c.VehicleLead = DefaultVehicleLead
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Templates == nil {
		c.Templates = DefaultTemplates()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Malformed records an event whose notes could not be used.
type Malformed struct {
	EventID string `json:"eventId"`
	Reason  string `json:"reason"`
}

// Report summarizes a rebuild.
type Report struct {
	Cancelled      int         `json:"cancelled"`
	Events         int         `json:"events"`
	Created        int         `json:"created"`
	SkippedNoPhone int         `json:"skippedNoPhone"`
	SkippedPast    int         `json:"skippedPast"`
	Failed         int         `json:"failed"`
	Malformed      []Malformed `json:"malformed,omitempty"`
}

// Rebuilder regenerates reminder jobs from the calendar. Calls are serialized, across processes
// when Config.Lock is set.
type Rebuilder struct {
	mu        sync.Mutex
	scheduler Scheduler
	events    EventSource
	cfg       Config
}

// NewRebuilder creates a rebuilder.
func NewRebuilder(scheduler Scheduler, events EventSource, cfg Config) *Rebuilder {
	return &Rebuilder{scheduler: scheduler, events: events, cfg: cfg.withDefaults()}
}

// Rebuild cancels every pending managed reminder and recreates them from the calendar window.
// If the calendar cannot be read the procedure stops after the cancel and returns the error.
func (r *Rebuilder) Rebuild(ctx context.Context) (Report, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		metrics.Rebuilds.WithLabelValues("failed").Inc()
		return Report{}, err
	}
	defer unlock()

	started := time.Now()
	defer func() { metrics.RebuildDuration.Observe(time.Since(started).Seconds()) }()

	var rep Report
	cancelled, err := r.scheduler.CancelBulk(ctx, notification.BulkFilter{Categories: ManagedCategories})
	rep.Cancelled = cancelled
	if err != nil {
		metrics.Rebuilds.WithLabelValues("failed").Inc()
		return rep, fmt.Errorf("cancel pending reminders: %w", err)
	}

	now := r.cfg.Now()
	events, err := r.events.ListEvents(ctx, now, now.Add(r.cfg.Window))
	if err != nil {
		metrics.Rebuilds.WithLabelValues("aborted").Inc()
		return rep, fmt.Errorf("list calendar events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	rep.Events = len(events)

	for _, evt := range events {
		r.schedule(ctx, evt, now, &rep)
	}

	log.Printf("reminder rebuild: cancelled %d, %d events, created %d, skipped %d without phone, %d past, %d malformed, %d failed",
		rep.Cancelled, rep.Events, rep.Created, rep.SkippedNoPhone, rep.SkippedPast, len(rep.Malformed), rep.Failed)
	if rep.Failed > 0 {
		metrics.Rebuilds.WithLabelValues("partial").Inc()
		return rep, fmt.Errorf("%d reminders could not be created", rep.Failed)
	}
	metrics.Rebuilds.WithLabelValues("ok").Inc()
	return rep, nil
}

// SyncEvent replaces the reminders of a single event, for calendar edits.
func (r *Rebuilder) SyncEvent(ctx context.Context, evt calendar.Event) (Report, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	var rep Report
	cancelled, err := r.scheduler.CancelBulk(ctx, notification.BulkFilter{Categories: ManagedCategories, GroupRef: evt.ID})
	rep.Cancelled = cancelled
	if err != nil {
		return rep, fmt.Errorf("cancel reminders of %s: %w", evt.ID, err)
	}
	rep.Events = 1
	r.schedule(ctx, evt, r.cfg.Now(), &rep)
	if rep.Failed > 0 {
		return rep, fmt.Errorf("reminder for %s could not be created", evt.ID)
	}
	return rep, nil
}

// ForgetEvent cancels the reminders of a deleted event.
func (r *Rebuilder) ForgetEvent(ctx context.Context, eventID string) (int, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return r.scheduler.CancelBulk(ctx, notification.BulkFilter{Categories: ManagedCategories, GroupRef: eventID})
}

func (r *Rebuilder) lock(ctx context.Context) (func(), error) {
	r.mu.Lock()
	if r.cfg.Lock == nil {
		return r.mu.Unlock, nil
	}
	release, err := r.cfg.Lock.Lock(ctx)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("lock reminders: %w", err)
	}
	return func() {
		release()
		r.mu.Unlock()
	}, nil
}

func (r *Rebuilder) schedule(ctx context.Context, evt calendar.Event, now time.Time, rep *Report) {
	job, err := r.plan(evt)
	var malformed *MalformedError
	switch {
	case errors.Is(err, ErrNoPhone):
		rep.SkippedNoPhone++
		return
	case errors.As(err, &malformed):
		rep.Malformed = append(rep.Malformed, Malformed{EventID: evt.ID, Reason: malformed.Error()})
		return
	case err != nil:
		rep.Failed++
		log.Printf("plan reminder for event %s: %v", evt.ID, err)
		return
	}

	if !job.ScheduledAt.After(now) {
		rep.SkippedPast++
		return
	}
	if _, err := r.scheduler.Create(ctx, job); err != nil {
		if errors.Is(err, notification.ErrScheduledInPast) {
			rep.SkippedPast++
			return
		}
		rep.Failed++
		log.Printf("create reminder for event %s: %v", evt.ID, err)
		return
	}
	rep.Created++
}

func (r *Rebuilder) plan(evt calendar.Event) (notification.Job, error) {
	notes, err := ParseNotes(evt.Notes)
	if err != nil {
		return notification.Job{}, err
	}

	category, lead := CategoryClass, r.cfg.ClassLead
	if notes.Kind == KindVehicle {
		category, lead = CategoryVehicle, r.cfg.VehicleLead
	}
	start := evt.Start.In(r.cfg.Location)
	data := MessageData{
		Student: notes.Student,
		Title:   evt.Title,
		Date:    start.Format("Mon Jan 2"),
		Time:    start.Format("15:04"),
	}
	body, err := r.cfg.Templates.Render(notes.Kind, notes.Exam, data)
	if err != nil {
		return notification.Job{}, err
	}

	return notification.Job{
		Audience:    []string{notes.Phone},
		Message:     body,
		ScheduledAt: evt.Start.Add(-lead),
		Category:    category,
		TargetDate:  start.Format("2006-01-02"),
		TargetTime:  start.Format("15:04"),
		GroupRef:    evt.ID,
	}, nil
}
