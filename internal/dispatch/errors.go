package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed message-delivery error taxonomy.
type ErrorKind string

const (
	// Post-send noise: the message very likely already went out; the
	// error is a side effect of the library inspecting its own state
	// after the network call completed.
	KindSessionCorrupted    ErrorKind = "SESSION_CORRUPTED"
	KindSessionDisconnected ErrorKind = "SESSION_DISCONNECTED"
	KindSessionClosed       ErrorKind = "SESSION_CLOSED"
	KindTargetClosed        ErrorKind = "TARGET_CLOSED"
	KindEvaluationError     ErrorKind = "EVALUATION_ERROR"
	KindPuppeteerError      ErrorKind = "PUPPETEER_ERROR"

	// Genuine delivery failures.
	KindInvalidRecipient ErrorKind = "INVALID_RECIPIENT"
	KindInvalidGroup     ErrorKind = "INVALID_GROUP"
	KindNotAuthenticated ErrorKind = "NOT_AUTHENTICATED"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindClientNotReady   ErrorKind = "CLIENT_NOT_READY"

	// Fail safe: unknown errors stay visible instead of being swallowed.
	KindUnknown ErrorKind = "UNKNOWN_ERROR"
)

// SendError is a structured send failure: a kind tag plus the original
// detail, carried from the point of creation. The kind is never re-derived
// by parsing text except at the one boundary where the underlying library
// only offers a string (Classify).
type SendError struct {
	Kind   ErrorKind
	Detail string
	ignore bool
}

func (e *SendError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Ignorable reports whether the error is post-send noise: the recipient is
// recorded as sent, not failed.
func (e *SendError) Ignorable() bool { return e.ignore }

// pattern is one row of the classification tables: a lowercase substring
// matched against the stringified client error.
type pattern struct {
	sub    string
	kind   ErrorKind
	ignore bool
}

// criticalPatterns are checked first; a match is always a real failure.
var criticalPatterns = []pattern{
	{"not registered", KindInvalidRecipient, false},
	{"invalid wid", KindInvalidRecipient, false},
	{"number does not exist", KindInvalidRecipient, false},
	{"group not found", KindInvalidGroup, false},
	{"invalid group", KindInvalidGroup, false},
	{"not a participant", KindInvalidGroup, false},
	{"not authenticated", KindNotAuthenticated, false},
	{"auth failure", KindNotAuthenticated, false},
	{"rate limit", KindRateLimited, false},
	{"too many requests", KindRateLimited, false},
	{"client is not ready", KindClientNotReady, false},
	{"session not ready", KindClientNotReady, false},
	{"send timed out", KindClientNotReady, false},
}

// postSendPatterns match the library's internal post-send breakage.
var postSendPatterns = []pattern{
	{"reading 'serialize'", KindSessionCorrupted, true},
	{"'serialize' of undefined", KindSessionCorrupted, true},
	{"cannot read properties of undefined", KindSessionCorrupted, true},
	{"cannot read properties of null", KindSessionCorrupted, true},
	{"execution context was destroyed", KindSessionDisconnected, true},
	{"execution context is not available", KindSessionDisconnected, true},
	{"session closed", KindSessionClosed, true},
	{"target closed", KindTargetClosed, true},
	{"evaluation failed", KindEvaluationError, true},
	{"protocol error", KindPuppeteerError, true},
	{"puppeteer", KindPuppeteerError, true},
}

// Classify maps an error from the send capability to its taxonomy entry.
// Already-classified errors pass through unchanged. Classification is
// deterministic: tables are ordered, first match wins, critical before
// post-send.
func Classify(err error) *SendError {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return se
	}

	msg := strings.ToLower(err.Error())
	for _, p := range criticalPatterns {
		if strings.Contains(msg, p.sub) {
			return &SendError{Kind: p.kind, Detail: err.Error(), ignore: p.ignore}
		}
	}
	for _, p := range postSendPatterns {
		if strings.Contains(msg, p.sub) {
			return &SendError{Kind: p.kind, Detail: err.Error(), ignore: p.ignore}
		}
	}
	return &SendError{Kind: KindUnknown, Detail: err.Error()}
}
