package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLeaseTTL applies when NewLease is given no TTL.
	DefaultLeaseTTL = time.Minute

	maxLeasePoll   = time.Second
	releaseTimeout = 5 * time.Second
)

// Lease is a named, expiring lock row in the shared database. Every process opening the same
// database contends for the same lease, so it serializes work across processes. A held lease
// is renewed in the background; one whose holder died expires after its TTL.
type Lease struct {
	db   *DB
	name string
	ttl  time.Duration
	poll time.Duration
}

// NewLease creates a lease called name that expires ttl after its last renewal.
func NewLease(db *DB, name string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	poll := ttl / 8
	if poll > maxLeasePoll {
		poll = maxLeasePoll
	}
	return &Lease{db: db, name: name, ttl: ttl, poll: poll}
}

// Lock blocks until the lease is taken or ctx ends. The returned func releases it.
func (l *Lease) Lock(ctx context.Context) (func(), error) {
	holder := uuid.NewString()
	for {
		ok, err := l.tryAcquire(ctx, holder)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", l.name, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.renew(holder, stop)
	}()

	return func() {
		close(stop)
		<-renewed
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, err := l.db.Client.ExecContext(rctx, l.db.Rebind(`DELETE FROM leases WHERE name = ? AND holder = ?`), l.name, holder); err != nil {
			log.Printf("release lease %s: %v", l.name, err)
		}
	}, nil
}

// tryAcquire inserts the lease row, or takes it over once expired.
func (l *Lease) tryAcquire(ctx context.Context, holder string) (bool, error) {
	now := time.Now()
	res, err := l.db.Client.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?`),
		l.name, holder, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Lease) renew(holder string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			res, err := l.db.Client.ExecContext(ctx, l.db.Rebind(`UPDATE leases SET expires_at = ? WHERE name = ? AND holder = ?`),
				time.Now().Add(l.ttl).UnixMilli(), l.name, holder)
			cancel()
			if err != nil {
				log.Printf("renew lease %s: %v", l.name, err)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				log.Printf("lease %s lost to another holder", l.name)
				return
			}
		}
	}
}
