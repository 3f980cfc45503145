// Package logx is the structured logger used across the bot: a thin
// field-function API over zerolog with a hot-swappable root.
//
// Console output is human readable with a short caller; the optional file
// sink gets JSON lines. Loggers derived from a Service follow Service.Apply.
package logx
