// Package logging builds the zap loggers used across the shell.
//
// Two encodings are available: JSON for production and a colored console
// encoder for development. Components never create loggers themselves; they
// receive a *zap.Logger and derive a named child:
//
//	logger := logging.NewDefault()
//	dispatcher := dispatch.New(handle, hub, loop, dispatch.WithLogger(logger.Named("dispatch")))
//	logger.Info("shell started", zap.Int("windows", 0))
package logging
