// Package logging provides a minimal logging interface and adapters for GroupMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that coordinators, selectors and agents use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - GroupMeshLogger, a configurable slog logger with contextual helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	manager, err := groupchat.New(roster, func(o *groupchat.Options) { o.Logger = logger })
//
// Messages are dotted event names ("groupchat.round.completed") followed by
// key/value attributes.
package logging
