// Package worker runs the background loops: the notification executor and the rebuild-request consumer.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"liveclass/internal/queue"
	"liveclass/internal/reminder"
)

// Rebuilder regenerates reminders.
type Rebuilder interface {
	Rebuild(ctx context.Context) (reminder.Report, error)
}

// Loop is a background loop that runs until ctx ends, such as notification.Executor.
type Loop interface {
	Run(ctx context.Context)
}

// Worker consumes rebuild requests one at a time and drives its loops.
type Worker struct {
	queue     queue.Queue
	rebuilder Rebuilder
	loops     []Loop
}

// New creates a worker.
func New(q queue.Queue, rebuilder Rebuilder, loops ...Loop) *Worker {
	return &Worker{queue: q, rebuilder: rebuilder, loops: loops}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, l := range w.loops {
		wg.Add(1)
		go func(l Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		w.handle(ctx, msg)
	}
	wg.Wait()
	log.Println("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeRebuild {
		log.Printf("ignoring message of type %q", msg.Type)
		return
	}
	req, err := queue.DecodeRebuild(msg)
	if err != nil {
		log.Printf("malformed rebuild request: %v", err)
		return
	}
	if !req.RequestedAt.IsZero() {
		log.Printf("rebuild %s requested by %q, waited %s", req.ID, req.RequestedBy, time.Since(req.RequestedAt).Round(time.Millisecond))
	}

	rep, err := w.rebuilder.Rebuild(ctx)
	if err != nil {
		log.Printf("rebuild %s failed: %v", req.ID, err)
		return
	}
	for _, m := range rep.Malformed {
		log.Printf("rebuild %s: event %s has malformed notes: %s", req.ID, m.EventID, m.Reason)
	}
}
