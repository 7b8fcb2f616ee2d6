// Package logging configures slog for podrag.
//
// Logs are JSON lines written to a size-rotated file under ~/.podrag/logs/.
// The --debug flag lowers the level to debug and mirrors output to stderr.
package logging
