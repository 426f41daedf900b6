package session

import (
	"context"

	"wafleet/internal/route"
)

// Client is the opaque send capability of the underlying messaging
// library. The dispatch core treats it as the only I/O boundary that needs
// error classification; implementations live outside this package (see
// internal/bridge).
type Client interface {
	// SendText delivers a plain text message to a wire identifier (JID).
	SendText(ctx context.Context, jid string, text string) error

	// SendMedia delivers an attachment. caption is ignored by pathways
	// whose descriptor has no native caption. voiceNote marks audio as
	// push-to-talk.
	SendMedia(ctx context.Context, jid string, att *route.Attachment, caption string, voiceNote bool) error

	// Reinitialize tears the client down and brings it back up. fresh
	// additionally destroys and recreates the browser. The session
	// machine must reach a dispatchable state again before any new
	// fan-out is accepted; Reinitialize only starts that process.
	Reinitialize(ctx context.Context, fresh bool) error
}
