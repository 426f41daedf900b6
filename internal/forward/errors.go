package forward

import "fmt"

// Kind is the transport fault taxonomy. It is disjoint from the
// message-delivery taxonomy in internal/dispatch: this layer only knows
// about HTTP and network outcomes.
type Kind string

const (
	KindBackend      Kind = "BACKEND_ERROR"       // bot identifier unresolved / misconfigured
	KindBot          Kind = "BOT_ERROR"           // remote replied with a non-2xx status
	KindConnection   Kind = "CONNECTION_ERROR"    // no response received
	KindRequestSetup Kind = "REQUEST_SETUP_ERROR" // malformed outgoing request
	KindUnknown      Kind = "UNKNOWN_ERROR"
)

// HTTPStatus maps the fault to the status the proxy surface reports.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBackend:
		return 404
	case KindBot:
		return 502
	case KindConnection:
		return 503
	case KindRequestSetup:
		return 400
	default:
		return 500
	}
}

// Error is a classified transport fault.
type Error struct {
	Kind   Kind
	Bot    string
	Detail string

	// RemoteBody holds the remote reply for BOT_ERROR faults so the
	// caller can surface it.
	RemoteBody []byte

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (bot %s): %s", e.Kind, e.Bot, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }
