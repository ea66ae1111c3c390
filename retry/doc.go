// Package retry provides a configurable exponential-backoff retry
// policy with jitter and error filtering. The orchestrator's agent
// invoker consumes it as its single retry mechanism.
package retry
