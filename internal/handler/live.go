package handler

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"liveclass/internal/live"
	"liveclass/internal/roster"
)

type liveResponse struct {
	live.Snapshot
	ParticipantCount int `json:"participantCount"`
}

// LiveSnapshot returns the raw session state, or the reconciled view when a group is given.
func (h *Handler) LiveSnapshot(c *gin.Context) {
	snap := h.Live.Snapshot()
	if group := c.Query("group"); group != "" {
		expected, learned := h.reconcileInputs(c.Request.Context(), group)
		c.JSON(http.StatusOK, live.BuildView(snap, expected, learned))
		return
	}
	if snap.Participants == nil {
		snap.Participants = []live.Participant{}
	}
	c.JSON(http.StatusOK, liveResponse{Snapshot: snap, ParticipantCount: snap.ParticipantCount()})
}

// LiveStream pushes a reconciled view per state change as Server-Sent Events, with periodic
// keepalive comments, until the client disconnects.
func (h *Handler) LiveStream(c *gin.Context) {
	ctx := c.Request.Context()
	expected, learned := h.reconcileInputs(ctx, c.Query("group"))

	sub := h.Streams.Subscribe(expected, learned)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return false
		case f := <-sub.Frames():
			if f.Kind == live.FrameKeepalive {
				_, err := fmt.Fprintf(w, ": keepalive %d\n\n", f.At.Unix())
				return err == nil
			}
			c.SSEvent("state", f.View)
			return true
		}
	})
}

// reconcileInputs fetches the expected members and learned identities of a group. Failures
// degrade to empty inputs so the stream still shows every live participant as unmatched.
func (h *Handler) reconcileInputs(ctx context.Context, group string) ([]roster.Member, map[string]string) {
	if group == "" {
		return nil, nil
	}
	var expected []roster.Member
	if h.Members != nil {
		members, err := h.Members.ListMembers(ctx, group)
		if err != nil {
			log.Printf("roster for %s unavailable: %v", group, err)
		} else {
			expected = members
		}
	}
	var learned map[string]string
	if h.Identities != nil {
		ids, err := h.Identities.Load(ctx, group)
		if err != nil {
			log.Printf("identities for %s unavailable: %v", group, err)
		} else {
			learned = ids
		}
	}
	return expected, learned
}

type learnRequest struct {
	Group       string `json:"group" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	MemberID    string `json:"memberId" binding:"required"`
}

// LearnIdentity records that a live display name belongs to a roster member.
func (h *Handler) LearnIdentity(c *gin.Context) {
	var req learnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if roster.NormalizeName(req.DisplayName) == "" {
		badRequest(c, "displayName is blank")
		return
	}
	if err := h.Identities.Learn(c.Request.Context(), req.Group, req.DisplayName, req.MemberID); err != nil {
		log.Printf("learn identity %q for %s: %v", req.DisplayName, req.Group, err)
		abortError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
