// Package logging configures the process-wide slog logger: JSON lines
// written to a size-rotated file under ~/.aipl/logs/, optionally mirrored to
// stderr, plus a small viewer used by `aipl logs`.
package logging
