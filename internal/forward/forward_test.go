package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("want *Error, got %T: %v", err, err)
	}
	return fe.Kind
}

func TestForwardOK(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	dir := NewStaticDirectory(map[string]string{"bot-a": srv.URL})
	f := New(dir, time.Second, discardLogger())

	resp, err := f.Forward(context.Background(), "bot-a", "/send", "application/json", []byte(`{"to":"+1809"}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != `{"success":true}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if string(gotBody) != `{"to":"+1809"}` {
		t.Fatalf("request body not forwarded verbatim: %q", gotBody)
	}
}

func TestForwardPartialStatusPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	f := New(NewStaticDirectory(map[string]string{"bot-a": srv.URL}), time.Second, discardLogger())
	resp, err := f.Forward(context.Background(), "bot-a", "/send", "", nil)
	if err != nil {
		t.Fatalf("207 must pass through, got %v", err)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestForwardUnresolvedIsBackendError(t *testing.T) {
	f := New(NewStaticDirectory(nil), time.Second, discardLogger())
	_, err := f.Forward(context.Background(), "ghost", "/send", "", nil)
	if kindOf(t, err) != KindBackend {
		t.Fatalf("kind = %v", kindOf(t, err))
	}
}

func TestForwardRemoteFailureIsBotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(NewStaticDirectory(map[string]string{"bot-a": srv.URL}), time.Second, discardLogger())
	_, err := f.Forward(context.Background(), "bot-a", "/send", "", nil)
	if kindOf(t, err) != KindBot {
		t.Fatalf("kind = %v", kindOf(t, err))
	}
	var fe *Error
	errors.As(err, &fe)
	if len(fe.RemoteBody) == 0 {
		t.Fatalf("remote body must be preserved for BOT_ERROR")
	}
}

func TestForwardNoResponseIsConnectionError(t *testing.T) {
	// Grab a port that nothing listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	f := New(NewStaticDirectory(map[string]string{"bot-a": dead}), time.Second, discardLogger())
	_, err := f.Forward(context.Background(), "bot-a", "/send", "", nil)
	if kindOf(t, err) != KindConnection {
		t.Fatalf("kind = %v", kindOf(t, err))
	}
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindBackend:      404,
		KindBot:          502,
		KindConnection:   503,
		KindRequestSetup: 400,
		KindUnknown:      500,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Fatalf("%s -> %d, want %d", k, got, want)
		}
	}
}

func TestDirectoryUpdate(t *testing.T) {
	dir := NewStaticDirectory(map[string]string{"a": "http://one/"})
	if base, ok := dir.Resolve("a"); !ok || base != "http://one" {
		t.Fatalf("resolve = %q %v", base, ok)
	}
	dir.Update(map[string]string{"b": "http://two"})
	if _, ok := dir.Resolve("a"); ok {
		t.Fatalf("stale entry survived update")
	}
	if base, ok := dir.Resolve("b"); !ok || base != "http://two" {
		t.Fatalf("resolve after update = %q %v", base, ok)
	}
}
