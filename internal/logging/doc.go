// Package logging provides the slog front-end shared by the kiln CLI and the
// kilnd telemetry daemon: a console handler for interactive use, a JSON
// handler for log files, and standardized attribute helpers.
package logging
