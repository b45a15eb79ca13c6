// Package logx configures lanework's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, either one file or one file per hour
//   - Debug lines out of files unless explicitly requested
//   - Error lines optionally forwarded to a Telegram chat, rate limited
package logx
