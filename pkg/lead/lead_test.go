package lead

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDispatchPostsRecord(t *testing.T) {
	var got Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second)
	rec := Record{CallerNumber: "+614000", Urgency: "this_week", Summary: "s", SessionID: "sess-1"}
	if err := d.Dispatch(context.Background(), rec); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if got.CallerNumber != "+614000" || got.Urgency != "this_week" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestDispatchDisabledWithoutURL(t *testing.T) {
	d := NewDispatcher("", time.Second)
	if d.Enabled() {
		t.Fatalf("expected dispatcher disabled without url")
	}
	if err := d.Dispatch(context.Background(), Record{}); err != nil {
		t.Fatalf("disabled dispatch must be a no-op, got %v", err)
	}
}

func TestDispatchTimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, 20*time.Millisecond)
	if err := d.Dispatch(context.Background(), Record{}); err == nil {
		t.Fatalf("expected timeout to surface as delivery failure")
	}
}

func TestDispatchNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second)
	if err := d.Dispatch(context.Background(), Record{}); err == nil {
		t.Fatalf("expected error for non-2xx sink response")
	}
}
