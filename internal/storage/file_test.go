package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "wafleet/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "diag")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage must be (nil, nil), got %v %v", st, err)
	}
}

func TestFileAppendAndPrune(t *testing.T) {
	st, dir := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	for _, at := range []time.Time{old, recent} {
		err := st.AppendTransition(ctx, TransitionEntry{
			At: at, Bot: "bot-a", From: "ready", To: "disconnected", Detail: "stream closed",
		})
		if err != nil {
			t.Fatalf("AppendTransition: %v", err)
		}
		err = st.AppendOutcome(ctx, OutcomeEntry{
			At: at, Bot: "bot-a", RequestID: "r1", Pathway: "phone",
			Recipient: "18095551234@c.us", Sent: true,
		})
		if err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}

	tPath := filepath.Join(dir, "diag.transitions.jsonl")
	oPath := filepath.Join(dir, "diag.outcomes.jsonl")
	if got := countLines(t, tPath); got != 2 {
		t.Fatalf("transitions lines = %d, want 2", got)
	}

	if err := st.Prune(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if got := countLines(t, tPath); got != 1 {
		t.Fatalf("transitions after prune = %d, want 1", got)
	}
	if got := countLines(t, oPath); got != 1 {
		t.Fatalf("outcomes after prune = %d, want 1", got)
	}

	// The store must stay appendable after the in-place rewrite.
	if err := st.AppendTransition(ctx, TransitionEntry{Bot: "bot-a", From: "disconnected", To: "reconnecting"}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
	if got := countLines(t, tPath); got != 2 {
		t.Fatalf("transitions after re-append = %d, want 2", got)
	}
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "alert:bot-a:error_connection", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, ok, err := st2.GetDedup(ctx, "alert:bot-a:error_connection")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reopen: %v %v", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestFileOutcomeRoundTrip(t *testing.T) {
	st, dir := openTestStore(t)
	ctx := context.Background()

	want := OutcomeEntry{
		At: time.Now(), Bot: "bot-a", RequestID: "r9", Pathway: "group",
		Recipient: "123@g.us", Sent: false, ErrorType: "INVALID_GROUP", Error: "Group not found",
	}
	if err := st.AppendOutcome(ctx, want); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "diag.outcomes.jsonl"))
	if err != nil {
		t.Fatalf("open outcomes: %v", err)
	}
	defer f.Close()
	var got OutcomeEntry
	if err := json.NewDecoder(f).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Recipient != want.Recipient || got.ErrorType != want.ErrorType || got.Sent {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
