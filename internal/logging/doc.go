// Package logging provides file-based logging with rotation for HERMES.
// The CLI always writes JSON logs to ~/.hermes/logs/server.log and to stderr;
// by default at info level, and at debug level when the --debug flag is set.
package logging
