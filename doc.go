// Package later provides a registry of deferred callbacks
// ordered by their execution timestamp.
// Producers register callbacks from any goroutine while a single consumer
// waits for, takes and invokes the callbacks that are due.
// All methods of a Registry are thread-safe and can safely be used
// from within multiple goroutines.
// The registry never invokes callbacks itself.
package later
