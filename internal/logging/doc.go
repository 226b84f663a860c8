// Package logging provides slog loggers with per-module levels.
//
// Initialize once at startup, then obtain loggers by module name:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"output": "debug"},
//	})
//	logger := logging.GetLogger("output")
//
// Records go to stdout (text or json), to the systemd journal when journald
// is reachable, and to an in-memory History that backs the log stream API.
//
// On journald hosts:
//
//	journalctl -t compositor MODULE=output
//	journalctl -t compositor OUTPUT_ID=out1 -f
package logging
