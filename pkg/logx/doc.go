// Package logx is changewatch's structured logging layer.
//
// A thin wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for operator alerts (min-level + rate limiting)
package logx
