// Package app wires the stores, clients and services shared by the binaries.
package app

import (
	"fmt"
	"log"

	"liveclass/internal/calendar"
	"liveclass/internal/config"
	"liveclass/internal/messaging"
	"liveclass/internal/notification"
	"liveclass/internal/queue"
	"liveclass/internal/reminder"
	"liveclass/internal/roster"
	"liveclass/internal/store"
)

// Services holds the long-lived collaborators built from config.
type Services struct {
	DB         *store.DB
	Redis      *store.Redis
	Queue      queue.Queue
	Identities roster.IdentityStore
	Roster     *roster.Client
	Calendar   *calendar.Client
	Scheduler  *notification.Scheduler
	Executor   *notification.Executor
	Rebuilder  *reminder.Rebuilder
}

// Build opens the job store and constructs every service. The in-memory queue backend also keeps
// learned identities in memory, so a single process runs without Redis.
func Build(cfg config.App) (*Services, error) {
	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}

	templates, err := reminder.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Services{
		DB:       db,
		Roster:   roster.New(cfg.RosterURL),
		Calendar: calendar.New(cfg.CalendarURL),
	}

	if cfg.QueueBackend == "memory" {
		s.Queue = queue.NewInMemory(64)
		s.Identities = roster.NewMemoryIdentityStore()
	} else {
		s.Redis = store.NewRedis(cfg.RedisAddr)
		s.Queue = queue.NewRedisQueue(s.Redis.Client, queue.DefaultKey)
		s.Identities = roster.NewRedisIdentityStore(s.Redis.Client, "")
	}

	rcfg := reminder.Config{
		ClassLead:   cfg.ClassLead,
		VehicleLead: cfg.VehicleLead,
		Window:      cfg.RebuildWindow,
		Location:    cfg.Location,
		Templates:   templates,
		// The CLI, the API and the worker each build a Rebuilder over the same job store.
		Lock:        store.NewLease(db, "reminders", store.DefaultLeaseTTL),
	}
	s.Scheduler = notification.NewScheduler(notification.NewRepository(db),
		notification.WithLeadTimes(rcfg.LeadTimes()),
		notification.WithLocation(cfg.Location))
	s.Rebuilder = reminder.NewRebuilder(s.Scheduler, s.Calendar, rcfg)

	if cfg.MessagingDryRun {
		log.Println("messaging in dry-run mode, messages are logged only")
	}
	sender := messaging.New(cfg.MessagingURL, cfg.MessagingToken, cfg.MessagingDryRun)
	s.Executor = notification.NewExecutor(notification.NewRepository(db), sender, notification.ExecutorOptions{
		Interval: cfg.ExecutorInterval,
		Delay:    cfg.SendDelay,
	})
	return s, nil
}

// Close releases the database and Redis connections.
func (s *Services) Close() {
	if err := s.DB.Close(); err != nil {
		log.Printf("db close: %v", err)
	}
	if err := s.Redis.Close(); err != nil {
		log.Printf("redis close: %v", err)
	}
}
