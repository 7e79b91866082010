// Package handler serves the operator API: live view, event stream, jobs, reminders and calendar edits.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/calendar"
	"liveclass/internal/live"
	"liveclass/internal/notification"
	"liveclass/internal/queue"
	"liveclass/internal/reminder"
	"liveclass/internal/roster"
)

// LiveState returns the current meeting snapshot.
type LiveState interface {
	Snapshot() live.Snapshot
}

// Streams opens dashboard subscriptions.
type Streams interface {
	Subscribe(expected []roster.Member, learned map[string]string) *live.Subscription
}

// Members lists the expected attendees of a group.
type Members interface {
	ListMembers(ctx context.Context, groupRef string) ([]roster.Member, error)
}

// Jobs is the notification job surface.
type Jobs interface {
	Create(ctx context.Context, j notification.Job) (notification.Job, error)
	Get(ctx context.Context, id string) (notification.Job, error)
	List(ctx context.Context, f notification.Filter) ([]notification.Job, error)
	Cancel(ctx context.Context, id string) (notification.Job, error)
	CancelBulk(ctx context.Context, f notification.BulkFilter) (int, error)
}

// Calendar edits lesson events.
type Calendar interface {
	Create(ctx context.Context, evt calendar.Event) (calendar.Event, error)
	Update(ctx context.Context, evt calendar.Event) (calendar.Event, error)
	Delete(ctx context.Context, id string) error
}

// Reminders resyncs the reminders of one event.
type Reminders interface {
	SyncEvent(ctx context.Context, evt calendar.Event) (reminder.Report, error)
	ForgetEvent(ctx context.Context, eventID string) (int, error)
}

// Deps are the collaborators a Handler serves from.
type Deps struct {
	Live       LiveState
	Streams    Streams
	Members    Members
	Identities roster.IdentityStore
	Jobs       Jobs
	Queue      queue.Queue
	Calendar   Calendar
	Reminders  Reminders
	Now        func() time.Time
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{Deps: d}
}

// Routes mounts the operator endpoints on an authenticated group.
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.GET("/live", h.LiveSnapshot)
	g.GET("/live/stream", h.LiveStream)

	g.POST("/jobs", h.CreateJob)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/cancel", h.CancelJob)
	g.POST("/jobs/cancel-bulk", h.CancelBulk)

	g.POST("/reminders/rebuild", h.RequestRebuild)
	g.POST("/identities", h.LearnIdentity)

	g.POST("/calendar/events", h.CreateEvent)
	g.PUT("/calendar/events/:id", h.UpdateEvent)
	g.DELETE("/calendar/events/:id", h.DeleteEvent)
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
