// Package logx configures wafleet's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Service-level components log through *slog.Logger (see internal/logging);
// infrastructure that bootstraps before the log service exists (config
// manager, storage, supervisor) uses logx directly.
package logx
