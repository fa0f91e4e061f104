// Package logging provides subsystem-tagged logging for podauth on top of
// log/slog.
//
// The CLI initializes logging once:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
// Code that logs by subsystem uses the printf-style helpers:
//
//	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
//	logging.Error("Fetch", err, "Request to %s failed", url)
//
// Components that accept a *slog.Logger get one bound to their subsystem:
//
//	client := oauth.NewClient(oauth.WithLogger(logging.Logger("OAuth")))
//
// Tokens are never logged. Security-relevant events are logged at Info or
// Warn with a "SECURITY_AUDIT:" message prefix so they can be filtered.
package logging
