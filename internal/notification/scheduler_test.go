package notification

import (
	"errors"
	"testing"
	"time"

	"liveclass/internal/store"
)

var referenceTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time { return c.current }

func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func setupScheduler(t *testing.T, opts ...Option) (*Scheduler, *Repository, *testClock) {
	t.Helper()
	db, err := store.NewDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{current: referenceTime}
	repo := NewRepository(db)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewScheduler(repo, opts...), repo, clock
}

func TestCreateRejectsPastAndNow(t *testing.T) {
	s, _, clock := setupScheduler(t)

	for _, at := range []time.Time{clock.Now().Add(-time.Minute), clock.Now()} {
		_, err := s.Create(testContext(t), Job{Audience: []string{"+15550001"}, Message: "hi", ScheduledAt: at})
		if !errors.Is(err, ErrScheduledInPast) || !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("expected past-time rejection for %s, got %v", at, err)
		}
	}
}

func TestCreateOneUnitInFutureIsPending(t *testing.T) {
	s, _, clock := setupScheduler(t)

	j, err := s.Create(testContext(t), Job{
		Audience:    []string{"+15550001", "+15550001"},
		Message:     "see you soon",
		ScheduledAt: clock.Now().Add(time.Millisecond),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.ID == "" || j.Status != StatusPending {
		t.Fatalf("expected pending job with id, got %+v", j)
	}

	stored, err := s.Get(testContext(t), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Audience) != 2 {
		t.Fatalf("duplicate audience entries must be preserved, got %v", stored.Audience)
	}
	if !stored.ScheduledAt.Equal(j.ScheduledAt) || stored.SentAt != nil {
		t.Fatalf("round trip mismatch: %+v", stored)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	s, _, clock := setupScheduler(t)
	future := clock.Now().Add(time.Hour)

	cases := []Job{
		{Audience: nil, Message: "x", ScheduledAt: future},
		{Audience: []string{"  "}, Message: "x", ScheduledAt: future},
		{Audience: []string{"+1555"}, Message: "  ", ScheduledAt: future},
		{Audience: []string{"+1555"}, Message: "x"},
		{Audience: []string{"+1555"}, Message: "x", ScheduledAt: future, TargetDate: "03/02/2026"},
	}
	for i, c := range cases {
		if _, err := s.Create(testContext(t), c); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("case %d: expected ErrInvalidJob, got %v", i, err)
		}
	}
}

func TestCancelTransitions(t *testing.T) {
	s, repo, clock := setupScheduler(t)
	ctx := testContext(t)

	j, err := s.Create(ctx, Job{Audience: []string{"+15550001"}, Message: "m", ScheduledAt: clock.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := s.Cancel(ctx, j.ID)
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancel to succeed, got %+v %v", cancelled, err)
	}
	if _, err := s.Cancel(ctx, j.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second cancel should conflict, got %v", err)
	}
	if _, err := s.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sent, _ := s.Create(ctx, Job{Audience: []string{"+15550002"}, Message: "m", ScheduledAt: clock.Now().Add(time.Hour)})
	at := clock.Now()
	if ok, err := repo.Transition(ctx, sent.ID, StatusSent, &at, ""); err != nil || !ok {
		t.Fatalf("mark sent: %v %v", ok, err)
	}
	if _, err := s.Cancel(ctx, sent.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel of sent job must conflict, got %v", err)
	}
	after, _ := s.Get(ctx, sent.ID)
	if after.Status != StatusSent {
		t.Fatalf("sent job must stay sent, got %s", after.Status)
	}
}

func TestTransitionIsMonotone(t *testing.T) {
	s, repo, clock := setupScheduler(t)
	ctx := testContext(t)
	j, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "m", ScheduledAt: clock.Now().Add(time.Hour)})

	if ok, _ := repo.Transition(ctx, j.ID, StatusFailed, nil, "x"); !ok {
		t.Fatalf("expected first transition to apply")
	}
	for _, to := range []Status{StatusSent, StatusCancelled, StatusFailed} {
		if ok, _ := repo.Transition(ctx, j.ID, to, nil, ""); ok {
			t.Fatalf("terminal job moved to %s", to)
		}
	}
	if _, err := repo.Transition(ctx, j.ID, StatusPending, nil, ""); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("transition back to pending must be rejected, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s, _, clock := setupScheduler(t)
	ctx := testContext(t)
	future := clock.Now().Add(time.Hour)

	a, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "a", ScheduledAt: future, GroupRef: "g1"})
	s.Create(ctx, Job{Audience: []string{"+2"}, Message: "b", ScheduledAt: future.Add(time.Minute), GroupRef: "g1"})
	s.Create(ctx, Job{Audience: []string{"+3"}, Message: "c", ScheduledAt: future, GroupRef: "g2"})
	s.Cancel(ctx, a.ID)

	g1, err := s.List(ctx, Filter{GroupRef: "g1"})
	if err != nil || len(g1) != 2 {
		t.Fatalf("expected 2 jobs in g1, got %d (%v)", len(g1), err)
	}
	pendingG1, _ := s.List(ctx, Filter{GroupRef: "g1", Status: StatusPending})
	if len(pendingG1) != 1 || pendingG1[0].Message != "b" {
		t.Fatalf("expected only b pending in g1, got %+v", pendingG1)
	}
	if _, err := s.List(ctx, Filter{Status: "bogus"}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestCancelBulkByTargetDateAndLeadTime(t *testing.T) {
	s, _, clock := setupScheduler(t, WithLeadTimes(map[string]time.Duration{"vehicle_reminder": 24 * time.Hour}))
	ctx := testContext(t)
	now := clock.Now()

	explicit, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "explicit", ScheduledAt: now.Add(time.Hour),
		Category: "class_reminder", TargetDate: "2026-03-05", TargetTime: "10:00"})
	// No target date: the target is scheduledAt + 24h = 2026-03-05 09:00.
	derived, _ := s.Create(ctx, Job{Audience: []string{"+2"}, Message: "derived", ScheduledAt: now.Add(49 * time.Hour),
		Category: "vehicle_reminder"})
	otherDay, _ := s.Create(ctx, Job{Audience: []string{"+3"}, Message: "other", ScheduledAt: now.Add(time.Hour),
		Category: "class_reminder", TargetDate: "2026-03-06"})
	unknownLead, _ := s.Create(ctx, Job{Audience: []string{"+4"}, Message: "manual", ScheduledAt: now.Add(49 * time.Hour),
		Category: "manual"})

	n, err := s.CancelBulk(ctx, BulkFilter{TargetDate: "2026-03-05"})
	if err != nil {
		t.Fatalf("cancel bulk: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}
	expectStatus(t, s, explicit.ID, StatusCancelled)
	expectStatus(t, s, derived.ID, StatusCancelled)
	expectStatus(t, s, otherDay.ID, StatusPending)
	expectStatus(t, s, unknownLead.ID, StatusPending)
}

func TestCancelBulkWindowAndCategories(t *testing.T) {
	s, _, clock := setupScheduler(t, WithLeadTimes(map[string]time.Duration{"class_reminder": 2 * time.Hour}))
	ctx := testContext(t)
	now := clock.Now()

	inWindow, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "in", ScheduledAt: now.Add(time.Hour), Category: "class_reminder"})
	outWindow, _ := s.Create(ctx, Job{Audience: []string{"+2"}, Message: "out", ScheduledAt: now.Add(10 * time.Hour), Category: "class_reminder"})
	otherCat, _ := s.Create(ctx, Job{Audience: []string{"+3"}, Message: "bcast", ScheduledAt: now.Add(time.Hour), Category: "broadcast"})

	n, err := s.CancelBulk(ctx, BulkFilter{
		Categories: []string{"class_reminder"},
		From:       now,
		To:         now.Add(4 * time.Hour),
	})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 cancelled, got %d (%v)", n, err)
	}
	expectStatus(t, s, inWindow.ID, StatusCancelled)
	expectStatus(t, s, outWindow.ID, StatusPending)
	expectStatus(t, s, otherCat.ID, StatusPending)

	n, _ = s.CancelBulk(ctx, BulkFilter{Categories: []string{"class_reminder", "broadcast"}})
	if n != 2 {
		t.Fatalf("expected remaining 2 cancelled, got %d", n)
	}
}

func TestCancelBulkByGroup(t *testing.T) {
	s, _, clock := setupScheduler(t)
	ctx := testContext(t)
	a, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "a", ScheduledAt: clock.Now().Add(time.Hour), GroupRef: "evt-1"})
	b, _ := s.Create(ctx, Job{Audience: []string{"+1"}, Message: "b", ScheduledAt: clock.Now().Add(time.Hour), GroupRef: "evt-2"})

	if n, _ := s.CancelBulk(ctx, BulkFilter{GroupRef: "evt-1"}); n != 1 {
		t.Fatalf("expected 1 cancelled, got %d", n)
	}
	expectStatus(t, s, a.ID, StatusCancelled)
	expectStatus(t, s, b.ID, StatusPending)
}

func expectStatus(t *testing.T, s *Scheduler, id string, want Status) {
	t.Helper()
	j, err := s.Get(testContext(t), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if j.Status != want {
		t.Fatalf("job %s (%s): status %s, want %s", id, j.Message, j.Status, want)
	}
}
