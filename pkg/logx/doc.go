// Package logx configures adbot's structured logging.
//
// Logger is a small value-type wrapper on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - an optional Telegram sink forwards warnings to the owner's log chat
package logx
