package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/auth"
	"liveclass/internal/notification"
	"liveclass/internal/queue"
)

type createJobRequest struct {
	Audience    []string  `json:"audience" binding:"required"`
	Message     string    `json:"message" binding:"required"`
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`
	Category    string    `json:"category"`
	TargetDate  string    `json:"targetDate"`
	TargetTime  string    `json:"targetTime"`
	GroupRef    string    `json:"groupRef"`
	Broadcast   bool      `json:"isBroadcast"`
}

// jobStatus maps scheduler errors to HTTP statuses.
func jobStatus(err error) int {
	switch {
	case errors.Is(err, notification.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, notification.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, notification.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	job, err := h.Jobs.Create(c.Request.Context(), notification.Job{
		Audience:    req.Audience,
		Message:     req.Message,
		ScheduledAt: req.ScheduledAt,
		Category:    req.Category,
		TargetDate:  req.TargetDate,
		TargetTime:  req.TargetTime,
		GroupRef:    req.GroupRef,
		Broadcast:   req.Broadcast,
	})
	if err != nil {
		abortError(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) ListJobs(c *gin.Context) {
	f := notification.Filter{
		GroupRef: c.Query("group"),
		Status:   notification.Status(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	jobs, err := h.Jobs.List(c.Request.Context(), f)
	if err != nil {
		abortError(c, jobStatus(err), err)
		return
	}
	if jobs == nil {
		jobs = []notification.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob cancels one pending job. A job that already left pending answers 409 with its status.
func (h *Handler) CancelJob(c *gin.Context) {
	job, err := h.Jobs.Cancel(c.Request.Context(), c.Param("id"))
	if errors.Is(err, notification.ErrConflict) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "status": job.Status})
		return
	}
	if err != nil {
		abortError(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type cancelBulkRequest struct {
	Categories []string  `json:"categories"`
	GroupRef   string    `json:"groupRef"`
	TargetDate string    `json:"targetDate"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// CancelBulk cancels pending jobs by category, group, target date or target window. At least one
// criterion is required so an empty body cannot wipe the schedule.
func (h *Handler) CancelBulk(c *gin.Context) {
	var req cancelBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Categories) == 0 && req.GroupRef == "" && req.TargetDate == "" && req.From.IsZero() && req.To.IsZero() {
		badRequest(c, "at least one of categories, groupRef, targetDate, from or to is required")
		return
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		badRequest(c, "from must be before to")
		return
	}
	n, err := h.Jobs.CancelBulk(c.Request.Context(), notification.BulkFilter{
		Categories: req.Categories,
		GroupRef:   req.GroupRef,
		TargetDate: req.TargetDate,
		From:       req.From,
		To:         req.To,
	})
	if err != nil {
		abortError(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// RequestRebuild queues a reminder rebuild for the worker.
func (h *Handler) RequestRebuild(c *gin.Context) {
	requestedBy := ""
	if claims, ok := auth.ClaimsFrom(c); ok {
		requestedBy = claims.Subject
	}
	msg, req, err := queue.NewRebuildMessage(requestedBy, h.Now())
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	if err := h.Queue.Publish(c.Request.Context(), msg); err != nil {
		log.Printf("queue publish failed: %v", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rebuild could not be queued"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"requestId": req.ID, "status": "queued"})
}
