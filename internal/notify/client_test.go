package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/notifications" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(SendResult{Accepted: true})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	res, err := c.Send(context.Background(), Notification{Kind: "checkin-requested", ChildID: "ana", RecordID: "r1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("not accepted: %+v", res)
	}
	if got.Kind != "checkin-requested" || got.ChildID != "ana" {
		t.Fatalf("server saw %+v", got)
	}
}

func TestSendSurfacesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if _, err := c.Send(context.Background(), Notification{Kind: "checkin-requested"}); err == nil {
		t.Fatal("5xx response returned no error")
	}
}

func TestSkipShortCircuits(t *testing.T) {
	c := New("http://push.invalid", true)
	res, err := c.Send(context.Background(), Notification{Kind: "checkin-requested"})
	if err != nil || !res.Accepted {
		t.Fatalf("skip send: %+v, %v", res, err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("skip health: %v", err)
	}
}
