package session

import "strings"

// Event intake: the adapter that owns the underlying client calls these as
// the client emits its callbacks. Each maps to exactly one transition.

// OnQR: a (new) QR code is available for pairing.
func (m *Machine) OnQR() {
	m.Set(StateQRReady, "qr code available")
}

// OnAuthenticated: the QR was scanned and the session handshake started.
func (m *Machine) OnAuthenticated() {
	m.Set(StateAuthenticating, "authenticated, loading session")
}

// OnReady: the client is fully connected and able to send.
func (m *Machine) OnReady() {
	m.Set(StateReady, "client ready")
}

// OnDisconnected: the client lost its connection; reason is free text from
// the underlying library.
func (m *Machine) OnDisconnected(reason string) {
	m.Set(StateDisconnected, reason)
}

// OnAuthFailure: pairing or session restore failed.
func (m *Machine) OnAuthFailure(msg string) {
	m.SetError(StateErrorAuth, msg, nil)
}

// OnError routes a generic client error to the matching error state by
// inspecting the message. This is the one boundary where the underlying
// library only offers a string.
func (m *Machine) OnError(err error) {
	if err == nil {
		return
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "browser", "chromium", "chrome", "puppeteer", "target closed"):
		m.SetError(StateErrorBrowser, "browser failure", err)
	case containsAny(msg, "net::", "network", "timeout", "timed out", "connection", "econnrefused", "econnreset"):
		m.SetError(StateErrorConnection, "connection failure", err)
	default:
		m.SetError(StateErrorUnknown, "unclassified client error", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
