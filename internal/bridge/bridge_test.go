package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wafleet/internal/route"
	"wafleet/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSendTextPostsJSON(t *testing.T) {
	var got textPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/send-text" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, discardLogger())
	if err := c.SendText(context.Background(), "18095551234@c.us", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.JID != "18095551234@c.us" || got.Text != "hello" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendMediaEncodesBase64(t *testing.T) {
	var got mediaPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, discardLogger())
	att := &route.Attachment{MimeType: "audio/ogg", Data: []byte{1, 2, 3}, Filename: "note.ogg"}
	if err := c.SendMedia(context.Background(), "18095551234@c.us", att, "", true); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if got.Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("data = %q", got.Data)
	}
	if !got.VoiceNote || got.MimeType != "audio/ogg" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestRemoteErrorTextPassesThrough(t *testing.T) {
	// The delivery classifier matches on this text, so the sidecar's
	// message must arrive verbatim.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Session closed. Most likely the page has been closed."}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, discardLogger())
	err := c.SendText(context.Background(), "18095551234@c.us", "hi")
	if err == nil || !strings.Contains(err.Error(), "Session closed") {
		t.Fatalf("err = %v", err)
	}
}

func newTestMachine() *session.Machine {
	return session.NewMachine("bot-a", 10, discardLogger(), nil)
}

func TestPollerAppliesStatus(t *testing.T) {
	status := `{"status":"ready"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(status))
	}))
	defer srv.Close()

	m := newTestMachine()
	p := NewPoller(New(srv.URL, time.Second, discardLogger()), m, time.Second, discardLogger())

	p.Tick(context.Background())
	if got := m.Current().State; got != session.StateReady {
		t.Fatalf("state = %s", got)
	}

	status = `{"status":"disconnected","detail":"stream errored"}`
	p.Tick(context.Background())
	if got := m.Current(); got.State != session.StateDisconnected || got.Detail != "stream errored" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestPollerUnchangedStatusDoesNotRefire(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"status":"qr"}`))
	}))
	defer srv.Close()

	m := newTestMachine()
	p := NewPoller(New(srv.URL, time.Second, discardLogger()), m, time.Second, discardLogger())
	p.Tick(context.Background())
	p.Tick(context.Background())

	if calls != 2 {
		t.Fatalf("fetch calls = %d", calls)
	}
	if len(m.History()) != 1 { // a single initializing -> qr_ready transition
		t.Fatalf("history = %+v", m.History())
	}
}

func TestPollerUnreachableSidecarIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	m := newTestMachine()
	p := NewPoller(New(dead, 200*time.Millisecond, discardLogger()), m, time.Second, discardLogger())
	p.Tick(context.Background())

	if got := m.Current().State; got != session.StateErrorConnection {
		t.Fatalf("state = %s", got)
	}
}
