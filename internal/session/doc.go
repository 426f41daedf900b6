// Package session tracks the connectivity/authentication lifecycle of the
// underlying messaging client and decides when dispatch is allowed.
//
// The Machine is the only shared mutable state of the dispatch core. It is
// mutated exclusively by lifecycle event handlers and read (as a consistent
// snapshot) by the dispatch gate. The health monitor periodically inspects
// the current state and triggers bounded client recovery.
package session
