// Package dispatch fans a routed message plan out to its recipients,
// classifies failures from the underlying send capability, and aggregates
// per-recipient outcomes into one report.
//
// The underlying library is known to throw spuriously after a message has
// already left the wire (it inspects its own browser state post-send). The
// classifier separates that noise from genuine delivery failures; noisy
// recipients are deliberately recorded as sent.
package dispatch
