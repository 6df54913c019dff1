// Package logging provides structured logging with per-module log levels.
//
// # Overview
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute.
// Records fan out to every available destination:
//   - stdout when a terminal, pipe, socket or file is attached
//   - the systemd journal when journald is reachable
//   - an in-memory ring buffer that backs the log stream endpoint
//
// # Usage
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"recorder": "debug",
//			"ffmpeg":   "warn",
//		},
//	})
//
// Then in each package:
//
//	logger := logging.GetLogger("recorder")
//	logger.Info("Segment opened", "path", path)
//
// Loggers obtained before Initialize are cached and follow the configured
// level afterwards, so package-level loggers are safe.
//
// # Viewing Logs
//
//	journalctl -t camkeeper -f
//	journalctl -t camkeeper MODULE=scheduler
//	journalctl -t camkeeper SESSION_ID=20260105_094000
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	motion = "debug"
//	mux = "warn"
package logging
