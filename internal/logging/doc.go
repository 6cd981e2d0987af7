// Package logging provides structured logging with per-module log levels.
//
// Records go to stdout (text or json) when stdout is usable and to the
// systemd journal when journald is running. Both are used when both exist.
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"v4l2":    "debug",
//			"capture": "warn",
//		},
//	})
//
//	logger := logging.GetLogger(logging.ModuleCapture).With("device", "/dev/video0")
//	logger.Info("Capture started", "format", "MJPG 1280x720")
//
// Loggers are cached per module and backed by a *slog.LevelVar, so a logger
// obtained before Initialize, or before a SetModuleLevel call, follows the
// new level without being fetched again.
//
// Journal entries carry SYSLOG_IDENTIFIER=uvccore and every attribute as an
// upper-cased field:
//
//	journalctl -t uvccore MODULE=v4l2 -p warning
//
// TOML form:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	v4l2 = "debug"
package logging
