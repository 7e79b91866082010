package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/live"
	"liveclass/internal/metrics"
)

// Event types handled by the ingestor.
const (
	EventURLValidation    = "endpoint.url_validation"
	EventMeetingStarted   = "meeting.started"
	EventMeetingEnded     = "meeting.ended"
	EventParticipantJoin  = "meeting.participant_joined"
	EventParticipantLeave = "meeting.participant_left"
)

const maxBodyBytes = 1 << 20

var errUnknownEvent = errors.New("unknown event type")

// Tracker is the live state the ingestor drives.
type Tracker interface {
	Start(ref live.SessionRef, startTime time.Time)
	Join(ref live.SessionRef, p live.Participant)
	Leave(participantID string)
	End(ref live.SessionRef)
}

// Handler answers provider webhooks. It always responds 200 so the provider never retries.
type Handler struct {
	verifier *Verifier
	tracker  Tracker
}

// NewHandler creates a webhook handler.
func NewHandler(verifier *Verifier, tracker Tracker) *Handler {
	return &Handler{verifier: verifier, tracker: tracker}
}

type envelope struct {
	Event   string          `json:"event"`
	EventTS int64           `json:"event_ts"`
	Payload json.RawMessage `json:"payload"`
}

type challengePayload struct {
	PlainToken string `json:"plainToken"`
}

// flexString accepts both JSON strings and numbers; meeting ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type meetingPayload struct {
	Object struct {
		ID          flexString `json:"id"`
		UUID        string     `json:"uuid"`
		Topic       string     `json:"topic"`
		StartTime   string     `json:"start_time"`
		Participant *struct {
			UserID          flexString `json:"user_id"`
			ParticipantUUID string     `json:"participant_uuid"`
			ID              flexString `json:"id"`
			UserName        string     `json:"user_name"`
			JoinTime        string     `json:"join_time"`
			Email           string     `json:"email"`
		} `json:"participant"`
	} `json:"object"`
}

func (p meetingPayload) ref() live.SessionRef {
	return live.SessionRef{
		SessionID:  string(p.Object.ID),
		InstanceID: p.Object.UUID,
		Topic:      p.Object.Topic,
	}
}

func (p meetingPayload) participantID() string {
	pt := p.Object.Participant
	if pt == nil {
		return ""
	}
	switch {
	case pt.UserID != "":
		return string(pt.UserID)
	case pt.ParticipantUUID != "":
		return pt.ParticipantUUID
	default:
		return string(pt.ID)
	}
}

// Handle is the gin handler for the webhook endpoint.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.ignore(c, "", fmt.Errorf("read body: %w", err))
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.ignore(c, "", fmt.Errorf("decode envelope: %w", err))
		return
	}

	if env.Event == EventURLValidation {
		var p challengePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.PlainToken == "" {
			h.ignore(c, env.Event, fmt.Errorf("invalid challenge payload"))
			return
		}
		metrics.WebhookEvents.WithLabelValues(eventLabel(env.Event), "ok").Inc()
		c.JSON(http.StatusOK, gin.H{
			"plainToken":     p.PlainToken,
			"encryptedToken": h.verifier.ChallengeResponse(p.PlainToken),
		})
		return
	}

	if err := h.verifier.Verify(c.GetHeader(TimestampHeader), c.GetHeader(SignatureHeader), body); err != nil {
		metrics.WebhookEvents.WithLabelValues(eventLabel(env.Event), "rejected").Inc()
		log.Printf("webhook %q rejected: %v", env.Event, err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.dispatch(env); err != nil {
		h.ignore(c, env.Event, err)
		return
	}
	metrics.WebhookEvents.WithLabelValues(eventLabel(env.Event), "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) dispatch(env envelope) error {
	var p meetingPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}

	switch env.Event {
	case EventMeetingStarted:
		h.tracker.Start(p.ref(), parseTime(p.Object.StartTime))
	case EventMeetingEnded:
		h.tracker.End(p.ref())
	case EventParticipantJoin:
		pt := p.Object.Participant
		if pt == nil {
			return fmt.Errorf("join without participant")
		}
		h.tracker.Join(p.ref(), live.Participant{
			ID:          p.participantID(),
			DisplayName: pt.UserName,
			JoinTime:    parseTime(pt.JoinTime),
			Email:       pt.Email,
		})
	case EventParticipantLeave:
		id := p.participantID()
		if id == "" {
			return fmt.Errorf("leave without participant id")
		}
		h.tracker.Leave(id)
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
	return nil
}

// eventLabel bounds the metric label set; the envelope is caller-controlled before verification.
func eventLabel(event string) string {
	switch event {
	case EventURLValidation, EventMeetingStarted, EventMeetingEnded, EventParticipantJoin, EventParticipantLeave:
		return event
	case "":
		return "none"
	default:
		return "other"
	}
}

func (h *Handler) ignore(c *gin.Context, event string, err error) {
	metrics.WebhookEvents.WithLabelValues(eventLabel(event), "ignored").Inc()
	log.Printf("webhook %q ignored: %v", event, err)
	c.JSON(http.StatusOK, gin.H{"status": "ignored"})
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
