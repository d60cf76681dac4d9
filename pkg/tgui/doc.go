// Package tgui provides small Telegram HTML helpers:
//   - escaping and tag helpers that return already-safe H values
//   - a message builder with HTML parse mode and previews disabled
//   - rune-safe truncation to Telegram limits
package tgui
