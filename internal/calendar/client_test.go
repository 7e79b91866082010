package calendar

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListEventsSendsWindow(t *testing.T) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 3, 0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("from") != "2026-03-02T00:00:00Z" || r.URL.Query().Get("to") != "2026-06-02T00:00:00Z" {
			t.Errorf("unexpected window %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"events": []Event{{ID: "e1", Title: "Lesson", Start: from.Add(time.Hour)}}})
	}))
	defer srv.Close()

	events, err := New(srv.URL).ListEvents(testContext(t), from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestClientCRUD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/events":
			var evt Event
			json.NewDecoder(r.Body).Decode(&evt)
			evt.ID = "new-1"
			json.NewEncoder(w).Encode(evt)
		case r.Method == http.MethodPut && r.URL.Path == "/events/new-1":
			var evt Event
			json.NewDecoder(r.Body).Decode(&evt)
			json.NewEncoder(w).Encode(evt)
		case r.Method == http.MethodDelete && r.URL.Path == "/events/new-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := testContext(t)

	created, err := c.Create(ctx, Event{Title: "Lesson"})
	if err != nil || created.ID != "new-1" {
		t.Fatalf("create: %+v %v", created, err)
	}
	created.Title = "Moved lesson"
	updated, err := c.Update(ctx, created)
	if err != nil || updated.Title != "Moved lesson" {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := c.Delete(ctx, "new-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.Update(ctx, Event{}); err == nil {
		t.Fatalf("update without id must fail")
	}
}

func TestListEventsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	if _, err := New(srv.URL).ListEvents(testContext(t), time.Now(), time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
