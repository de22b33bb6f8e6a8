// Package utils holds small injectable-logging helpers shared across
// components, mirroring the role quic-go's own internal/utils.Logger
// plays, but built on github.com/go-logr/logr instead of a package-level
// singleton — the anti-pattern spec.md's Design Notes §9 calls out by
// name ("Singleton logger / global state -> pass a sink or write-fn into
// components").
package utils

import "github.com/go-logr/logr"

// OrDiscard returns log if it has a sink attached, or logr.Discard()
// otherwise. Every component in this module calls this once at
// construction instead of checking for a nil logger on every call.
func OrDiscard(log logr.Logger) logr.Logger {
	if log.GetSink() == nil {
		return logr.Discard()
	}
	return log
}
