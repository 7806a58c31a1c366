// Package shelfsync is an embeddable local-first synchronization core for
// point-of-sale inventory companions. It mirrors a remote commerce catalog
// into an on-device SQLite store, layers team annotation records on top,
// detects and resolves concurrent-edit conflicts, and queues mutations made
// offline for replay when connectivity returns.
//
// The package is a library: hosts construct a Service (or the individual
// components) and drive it from their own UI or scheduler. All blocking
// operations take a context.Context and all components are safe for
// concurrent use.
package shelfsync
