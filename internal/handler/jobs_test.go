package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"liveclass/internal/auth"
	"liveclass/internal/live"
	"liveclass/internal/notification"
	"liveclass/internal/queue"
)

func createJob(t *testing.T, f *fixture, body map[string]any) notification.Job {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/jobs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	return decode[notification.Job](t, w)
}

func TestJobLifecycle(t *testing.T) {
	f := setup(t, live.HubOptions{}, nil)

	job := createJob(t, f, map[string]any{
		"audience":    []string{"+15550001", "+15550002"},
		"message":     "Parents evening moved to 6pm",
		"scheduledAt": referenceTime.Add(time.Hour),
		"groupRef":    "grade-7",
		"isBroadcast": true,
	})
	if job.ID == "" || job.Status != notification.StatusPending || !job.Broadcast {
		t.Fatalf("unexpected job %+v", job)
	}

	if w := f.do(t, http.MethodGet, "/v1/jobs/"+job.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/jobs/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	list := decode[struct{ Jobs []notification.Job }](t, f.do(t, http.MethodGet, "/v1/jobs?group=grade-7&status=pending", nil))
	if len(list.Jobs) != 1 || list.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected list %+v", list)
	}
	if w := f.do(t, http.MethodGet, "/v1/jobs?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/jobs?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", nil)
	if w.Code != http.StatusOK || decode[notification.Job](t, w).Status != notification.StatusCancelled {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", nil)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"status":"cancelled"`) {
		t.Fatalf("expected 409 with current status, got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/v1/jobs/missing/cancel", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := setup(t, live.HubOptions{}, nil)
	cases := map[string]map[string]any{
		"past":           {"audience": []string{"+1555"}, "message": "hi", "scheduledAt": referenceTime.Add(-time.Minute)},
		"now":            {"audience": []string{"+1555"}, "message": "hi", "scheduledAt": referenceTime},
		"empty audience": {"audience": []string{" "}, "message": "hi", "scheduledAt": referenceTime.Add(time.Hour)},
		"blank message":  {"audience": []string{"+1555"}, "message": "   ", "scheduledAt": referenceTime.Add(time.Hour)},
		"bad date":       {"audience": []string{"+1555"}, "message": "hi", "scheduledAt": referenceTime.Add(time.Hour), "targetDate": "03/05/2026"},
		"no schedule":    {"audience": []string{"+1555"}, "message": "hi"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, "/v1/jobs", body); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCancelBulk(t *testing.T) {
	f := setup(t, live.HubOptions{}, nil)
	for _, target := range []string{"2026-03-05", "2026-03-05", "2026-03-06"} {
		createJob(t, f, map[string]any{
			"audience":    []string{"+1555"},
			"message":     "reminder",
			"scheduledAt": referenceTime.Add(time.Hour),
			"category":    "class_reminder",
			"targetDate":  target,
			"targetTime":  "10:00",
		})
	}

	if w := f.do(t, http.MethodPost, "/v1/jobs/cancel-bulk", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without criteria, got %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/v1/jobs/cancel-bulk", map[string]any{"categories": []string{"class_reminder"}, "targetDate": "2026-03-05"})
	if w.Code != http.StatusOK || decode[map[string]int](t, w)["cancelled"] != 2 {
		t.Fatalf("cancel-bulk: %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v1/jobs/cancel-bulk", map[string]any{
		"from": time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		"to":   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusOK || decode[map[string]int](t, w)["cancelled"] != 1 {
		t.Fatalf("window cancel: %d %s", w.Code, w.Body.String())
	}
}

func TestRequestRebuildQueuesMessage(t *testing.T) {
	f := setup(t, live.HubOptions{}, nil)
	h := New(Deps{Queue: f.queue, Now: func() time.Time { return referenceTime }})
	r := gin.New()
	h.Routes(r.Group("/v1", auth.OperatorAuth("key", "liveclass")))

	tok, err := auth.Issue("ops@school", auth.RoleOperator, "liveclass", "key", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/reminders/rebuild", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("rebuild: %d %s", w.Code, w.Body.String())
	}
	requestID := decode[map[string]string](t, w)["requestId"]

	msgs, _ := f.queue.Consume(testContext(t))
	select {
	case msg := <-msgs:
		got, err := queue.DecodeRebuild(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != requestID || got.RequestedBy != "ops@school" || !got.RequestedAt.Equal(referenceTime) {
			t.Fatalf("unexpected request %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("rebuild request not queued")
	}
}
