// Package logging builds the slog loggers used across voicebox.
//
// It provides a console handler for interactive use, a JSON handler for
// machine consumption, attribute helpers, and context plumbing so item and
// step identifiers follow an attempt through every log line.
package logging
