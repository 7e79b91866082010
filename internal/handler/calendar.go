package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/calendar"
	"liveclass/internal/reminder"
)

type eventRequest struct {
	Title      string    `json:"title" binding:"required"`
	Notes      string    `json:"notes"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end"`
	TeacherRef string    `json:"teacherRef"`
}

func (r eventRequest) event(id string) calendar.Event {
	return calendar.Event{ID: id, Title: r.Title, Notes: r.Notes, Start: r.Start, End: r.End, TeacherRef: r.TeacherRef}
}

type eventResponse struct {
	Event     calendar.Event  `json:"event"`
	Reminders reminder.Report `json:"reminders"`
	SyncError string          `json:"syncError,omitempty"`
}

func calendarStatus(err error) int {
	if errors.Is(err, calendar.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func bindEvent(c *gin.Context) (eventRequest, bool) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return req, false
	}
	if !req.End.IsZero() && req.End.Before(req.Start) {
		badRequest(c, "end must not be before start")
		return req, false
	}
	return req, true
}

// CreateEvent adds a lesson to the calendar and schedules its reminder.
func (h *Handler) CreateEvent(c *gin.Context) {
	req, ok := bindEvent(c)
	if !ok {
		return
	}
	evt, err := h.Calendar.Create(c.Request.Context(), req.event(""))
	if err != nil {
		log.Printf("calendar create failed: %v", err)
		abortError(c, calendarStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, h.sync(c, evt))
}

// UpdateEvent replaces a lesson and reschedules its reminder.
func (h *Handler) UpdateEvent(c *gin.Context) {
	req, ok := bindEvent(c)
	if !ok {
		return
	}
	evt, err := h.Calendar.Update(c.Request.Context(), req.event(c.Param("id")))
	if err != nil {
		log.Printf("calendar update %s failed: %v", c.Param("id"), err)
		abortError(c, calendarStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, h.sync(c, evt))
}

// DeleteEvent removes a lesson and cancels its pending reminders.
func (h *Handler) DeleteEvent(c *gin.Context) {
	id := c.Param("id")
	if err := h.Calendar.Delete(c.Request.Context(), id); err != nil {
		log.Printf("calendar delete %s failed: %v", id, err)
		abortError(c, calendarStatus(err), err)
		return
	}
	n, err := h.Reminders.ForgetEvent(c.Request.Context(), id)
	if err != nil {
		log.Printf("cancel reminders of deleted event %s: %v", id, err)
		c.JSON(http.StatusOK, gin.H{"cancelled": n, "syncError": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// sync resyncs reminders after a successful calendar write. The calendar is the source of truth,
// so a sync failure is reported in the body rather than failing the request.
func (h *Handler) sync(c *gin.Context, evt calendar.Event) eventResponse {
	rep, err := h.Reminders.SyncEvent(c.Request.Context(), evt)
	resp := eventResponse{Event: evt, Reminders: rep}
	if err != nil {
		log.Printf("resync reminders of %s: %v", evt.ID, err)
		resp.SyncError = err.Error()
	}
	return resp
}
