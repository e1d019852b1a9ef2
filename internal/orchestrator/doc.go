// Package orchestrator drives one evaluation run from launch to a terminal
// status.
//
// Execute claims a queued run for callers outside the queue; ExecuteClaimed
// takes over a run a queue worker already claimed. A run has one owner at a
// time. The owner resolves custom-task plugins and builds the engine
// invocation, waits for the engine, then hands the output directory to the
// ingestion pipeline. Every failure path
// persists a reason on the run; completion is recorded only after ingestion
// succeeds. Runs are never retried automatically.
package orchestrator
