// Package recipient turns the heterogeneous recipient fields legacy callers
// send (`recipients`, `to`, `phoneNumber`, `groupId`, singular or list) into
// one ordered, deduplicated set of typed recipients, and formats phone
// numbers into canonical E.164-ish form.
//
// Everything here is pure: no network calls, no shared state. The group /
// phone split is decided solely by the "@g.us" suffix test.
package recipient
