package eventbus

import "time"

// Event type names published by this repo. Observers match on these.
const (
	// Session lifecycle.
	TypeLifecycleTransition = "session.transition"
	TypeRecoveryAttempt     = "session.recovery_attempt"
	TypeRecoverySuspended   = "session.recovery_suspended"

	// Message dispatch.
	TypeDispatchDone     = "dispatch.done"
	TypeDispatchRejected = "dispatch.rejected"
)

// LifecycleTransition describes one state change of the session machine.
type LifecycleTransition struct {
	Bot    string    `json:"bot"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func (LifecycleTransition) EventType() string { return TypeLifecycleTransition }

// RecoveryAttempt is published when the health monitor triggers a client
// reinitialization.
type RecoveryAttempt struct {
	Bot       string    `json:"bot"`
	State     string    `json:"state"`
	Fresh     bool      `json:"fresh"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

func (RecoveryAttempt) EventType() string { return TypeRecoveryAttempt }

// RecoverySuspended is published once per window when the recovery budget
// runs out.
type RecoverySuspended struct {
	Bot     string    `json:"bot"`
	State   string    `json:"state"`
	ResetAt time.Time `json:"reset_at"`
}

func (RecoverySuspended) EventType() string { return TypeRecoverySuspended }

// DispatchDone summarizes one completed fan-out.
type DispatchDone struct {
	Bot       string            `json:"bot"`
	RequestID string            `json:"request_id"`
	Pathway   string            `json:"pathway"`
	Sent      int               `json:"sent"`
	Failed    int               `json:"failed"`
	Outcomes  []DispatchOutcome `json:"outcomes,omitempty"`
	At        time.Time         `json:"at"`
}

func (DispatchDone) EventType() string { return TypeDispatchDone }

// DispatchOutcome is one recipient's result inside a DispatchDone event.
type DispatchOutcome struct {
	Recipient string    `json:"recipient"`
	Sent      bool      `json:"sent"`
	ErrorType string    `json:"error_type,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// DispatchRejected records a request refused by the lifecycle gate.
type DispatchRejected struct {
	Bot       string    `json:"bot"`
	RequestID string    `json:"request_id"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
}

func (DispatchRejected) EventType() string { return TypeDispatchRejected }
