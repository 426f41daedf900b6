package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wafleet/internal/forward"
)

func newTestRelay(bases map[string]string) *Relay {
	dir := forward.NewStaticDirectory(bases)
	return &Relay{
		dir: dir,
		fwd: forward.New(dir, time.Second, discardLogger()),
		log: discardLogger(),
	}
}

func relayPost(t *testing.T, rel *Relay, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bots/{bot}/send", rel.handleForward)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestRelayPassesReplyThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"totalSent":1}`))
	}))
	defer backend.Close()

	rel := newTestRelay(map[string]string{"bot-a": backend.URL})
	rr := relayPost(t, rel, "/bots/bot-a/send", `{"phone":"18095551234","message":"hi"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != `{"success":true,"totalSent":1}` {
		t.Fatalf("body = %s", got)
	}
}

func TestRelayPassesPartialStatusThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"success":false,"totalSent":1,"totalErrors":1}`))
	}))
	defer backend.Close()

	rel := newTestRelay(map[string]string{"bot-a": backend.URL})
	rr := relayPost(t, rel, "/bots/bot-a/send", `{}`)

	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRelayUnknownBotIs404(t *testing.T) {
	rel := newTestRelay(map[string]string{})
	rr := relayPost(t, rel, "/bots/nope/send", `{}`)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	var er forwardErrorReply
	_ = json.Unmarshal(rr.Body.Bytes(), &er)
	if er.ErrorType != string(forward.KindBackend) || er.Bot != "nope" {
		t.Fatalf("reply = %+v", er)
	}
}

func TestRelayRemoteFailureSurfacesRemoteBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"not dispatchable","state":"waiting_for_qr"}`))
	}))
	defer backend.Close()

	rel := newTestRelay(map[string]string{"bot-a": backend.URL})
	rr := relayPost(t, rel, "/bots/bot-a/send", `{}`)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	var er errorReply
	_ = json.Unmarshal(rr.Body.Bytes(), &er)
	if er.State != "waiting_for_qr" {
		t.Fatalf("remote body not passed through: %s", rr.Body.String())
	}
}

func TestRelayDeadBotIs503(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	dead := backend.URL
	backend.Close()

	rel := newTestRelay(map[string]string{"bot-a": dead})
	rr := relayPost(t, rel, "/bots/bot-a/send", `{}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}
