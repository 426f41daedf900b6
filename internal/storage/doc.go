// Package storage provides a best-effort diagnostics persistence layer.
//
// It currently supports:
//   - Lifecycle transition appends (per-bot state changes)
//   - Dispatch outcome appends (per-recipient delivery results)
//   - Optional alert dedup state (to survive restarts)
//
// Nothing here is used for correctness; a failed write is logged and
// dropped.
package storage
