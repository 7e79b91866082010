package notification

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"liveclass/internal/metrics"
)

const (
	// DefaultInterval is the executor's polling period.
	DefaultInterval = 30 * time.Second
	// DefaultSendDelay spaces consecutive messages to stay under upstream rate limits.
	DefaultSendDelay = 1500 * time.Millisecond

	recordTimeout = 10 * time.Second
)

// ErrPassInProgress is returned by Tick when a previous pass is still running.
var ErrPassInProgress = errors.New("executor pass already running")

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// PassResult summarizes one executor pass.
type PassResult struct {
	Jobs   int
	Sent   int
	Failed int
}

// Executor polls for due jobs and delivers them.
type Executor struct {
	store    Store
	sender   Sender
	interval time.Duration
	delay    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	passes  sync.WaitGroup
}

// ExecutorOptions configures an Executor. Zero durations fall back to defaults; a negative
// Delay disables pacing.
type ExecutorOptions struct {
	Interval time.Duration
	Delay    time.Duration
	Now      func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(store Store, sender Sender, opts ExecutorOptions) *Executor {
	e := &Executor{
		store:    store,
		sender:   sender,
		interval: opts.Interval,
		delay:    opts.Delay,
		now:      opts.Now,
		sleep:    sleepContext,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.delay == 0 {
		e.delay = DefaultSendDelay
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Run ticks until ctx is cancelled, then waits for the pass in flight to record its results.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	log.Printf("executor started, polling every %s", e.interval)
	for {
		select {
		case <-ctx.Done():
			e.passes.Wait()
			log.Println("executor stopped")
			return
		case <-ticker.C:
			// Passes run on their own goroutine so a slow pass makes later ticks no-ops
			// rather than queueing them behind it.
			e.passes.Add(1)
			go func() {
				defer e.passes.Done()
				res, err := e.Tick(ctx)
				switch {
				case errors.Is(err, ErrPassInProgress):
				case err != nil:
					log.Printf("executor pass failed: %v", err)
				case res.Jobs > 0:
					log.Printf("executor pass: %d jobs, %d sent, %d failed", res.Jobs, res.Sent, res.Failed)
				}
			}()
		}
	}
}

// Tick runs one pass unless another pass is still running.
func (e *Executor) Tick(ctx context.Context) (PassResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer e.running.Store(false)
	return e.pass(ctx)
}

func (e *Executor) pass(ctx context.Context) (PassResult, error) {
	var res PassResult
	due, err := e.store.Due(ctx, e.now())
	if err != nil {
		return res, err
	}

	first := true
	for _, j := range due {
		// Cancellation is honoured between jobs only.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Jobs++
		status, ok := e.deliver(ctx, j, first)
		first = false
		if !ok {
			continue
		}
		metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
		if status == StatusSent {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// deliver sends j to its whole audience and records the outcome. A started job runs to completion
// on a context detached from ctx: a job left pending after a partial delivery would be resent in
// full by the next pass.
func (e *Executor) deliver(ctx context.Context, j Job, first bool) (Status, bool) {
	dctx := context.WithoutCancel(ctx)

	var failures []string
	delivered := 0
	for _, phone := range j.Audience {
		if !first && e.delay > 0 {
			if err := e.sleep(dctx, e.delay); err != nil {
				log.Printf("pacing before %s in job %s: %v", phone, j.ID, err)
			}
		}
		first = false

		if err := e.sender.Send(dctx, phone, j.Message); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			failures = append(failures, phone+": "+singleLine(err.Error()))
			continue
		}
		metrics.Deliveries.WithLabelValues("sent").Inc()
		delivered++
	}

	status := StatusSent
	if delivered == 0 {
		status = StatusFailed
	}
	sentAt := e.now().UTC()
	rctx, cancel := context.WithTimeout(dctx, recordTimeout)
	defer cancel()
	ok, err := e.store.Transition(rctx, j.ID, status, &sentAt, strings.Join(failures, "\n"))
	if err != nil {
		log.Printf("record result of job %s: %v", j.ID, err)
		return status, false
	}
	if !ok {
		log.Printf("job %s left pending during delivery; result not recorded", j.ID)
		return status, false
	}
	return status, true
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
