// Package logging configures the process-wide slog logger for repoindex.
//
// Output goes to stderr, to a size-rotated file, or both. On a terminal the
// stderr stream is human-readable text; everywhere else it is JSON so log
// shippers can parse the repo_id and phase attributes.
package logging
