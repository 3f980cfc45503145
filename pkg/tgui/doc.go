// Package tgui provides small helpers for composing Telegram HTML messages:
//   - escaping and tag builders (Esc, Bold, Anchor)
//   - rune-aware length helpers (Telegram limits count characters, not bytes)
package tgui
