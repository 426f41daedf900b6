package dispatch

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyFixtures(t *testing.T) {
	cases := []struct {
		errString string
		wantKind  ErrorKind
		wantIgn   bool
	}{
		// Post-send noise.
		{"Cannot read properties of undefined (reading 'serialize')", KindSessionCorrupted, true},
		{"TypeError: Cannot read property 'serialize' of undefined", KindSessionCorrupted, true},
		{"Execution context was destroyed, most likely because of a navigation.", KindSessionDisconnected, true},
		{"Session closed. Most likely the page has been closed.", KindSessionClosed, true},
		{"Protocol error (Runtime.callFunctionOn): Target closed.", KindTargetClosed, true},
		{"Evaluation failed: something broke inside the page", KindEvaluationError, true},
		{"Protocol error: Connection closed", KindPuppeteerError, true},

		// Critical.
		{"The number is not registered", KindInvalidRecipient, false},
		{"invalid wid error", KindInvalidRecipient, false},
		{"Group not found", KindInvalidGroup, false},
		{"client is not authenticated", KindNotAuthenticated, false},
		{"Rate limit exceeded, slow down", KindRateLimited, false},
		{"429 Too Many Requests", KindRateLimited, false},
		{"Client is not ready yet", KindClientNotReady, false},

		// Unknown fails safe.
		{"some novel explosion", KindUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.errString, func(t *testing.T) {
			se := Classify(errors.New(tc.errString))
			if se.Kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", se.Kind, tc.wantKind)
			}
			if se.Ignorable() != tc.wantIgn {
				t.Fatalf("ignorable = %v, want %v", se.Ignorable(), tc.wantIgn)
			}
			if se.Detail != tc.errString {
				t.Fatalf("detail lost: %q", se.Detail)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	in := "Execution context was destroyed"
	first := Classify(errors.New(in))
	for i := 0; i < 5; i++ {
		again := Classify(errors.New(in))
		if again.Kind != first.Kind || again.Ignorable() != first.Ignorable() {
			t.Fatalf("classification changed between runs: %v vs %v", first, again)
		}
	}
}

func TestClassifyCriticalBeforePostSend(t *testing.T) {
	// A message matching both tables must take the critical entry.
	se := Classify(errors.New("group not found: target closed"))
	if se.Kind != KindInvalidGroup || se.Ignorable() {
		t.Fatalf("critical table must win: %+v", se)
	}
}

func TestClassifyPassesThroughStructured(t *testing.T) {
	orig := &SendError{Kind: KindRateLimited, Detail: "throttled"}
	got := Classify(fmt.Errorf("send: %w", orig))
	if got != orig {
		t.Fatalf("structured errors must pass through unchanged")
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("Classify(nil) must be nil")
	}
}

func TestSendErrorMessage(t *testing.T) {
	se := &SendError{Kind: KindInvalidGroup, Detail: "gone"}
	if se.Error() != "INVALID_GROUP: gone" {
		t.Fatalf("Error() = %q", se.Error())
	}
}
