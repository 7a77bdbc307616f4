// Package logx configures pushstream's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional relay sink (min-level + rate limiting) that forwards
//     warnings to a chat, e.g. the Telegram relay
package logx
