// Package logx is Mila's structured logging layer.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured and rotated by lumberjack
//   - an optional Telegram admin sink (min-level + rate limiting)
package logx
