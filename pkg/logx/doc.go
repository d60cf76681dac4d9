// Package logx configures fortunebot's structured logging.
//
// A thin wrapper (logx.Logger) over zerolog that keeps console output short
// (timestamp + file:line), file output as JSON lines, and can forward
// WARN+ records into a chat through a rate-limited sink.
package logx
