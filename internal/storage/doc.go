// Package storage persists the bot's audit trail: who deleted, reset or
// pruned fortune data and when. Drivers: "file" (JSON Lines) and "sqlite".
package storage
