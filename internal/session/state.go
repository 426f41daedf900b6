package session

// State is the lifecycle phase of the underlying messaging client.
type State string

const (
	StateInitializing    State = "initializing"
	StateBrowserLaunch   State = "browser_launching"
	StateWaitingForQR    State = "waiting_for_qr"
	StateQRReady         State = "qr_ready"
	StateQRScanned       State = "qr_scanned"
	StateAuthenticating  State = "authenticating"
	StateConnected       State = "connected"
	StateReady           State = "ready"
	StateDisconnected    State = "disconnected"
	StateReconnecting    State = "reconnecting"
	StateErrorBrowser    State = "error_browser"
	StateErrorConnection State = "error_connection"
	StateErrorAuth       State = "error_authentication"
	StateErrorUnknown    State = "error_unknown"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
)

// CanDispatch reports whether the client is able to send messages.
func (s State) CanDispatch() bool {
	return s == StateConnected || s == StateReady
}

// IsError reports whether s is one of the re-enterable error states.
func (s State) IsError() bool {
	switch s {
	case StateErrorBrowser, StateErrorConnection, StateErrorAuth, StateErrorUnknown:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool { return s == StateStopped }
