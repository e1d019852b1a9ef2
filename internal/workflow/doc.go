// Package workflow runs queued evaluation runs on a bounded pool of workers.
//
// Each worker claims the oldest queued run from the store, decodes the job
// specification stored with it, and hands it to the orchestrator. The claim
// is atomic, so the worker count is the upper bound on concurrent engine
// processes. Idle workers sleep for the poll interval or until Notify signals
// a new submission. At start the Manager fails runs a previous daemon left in
// running, since no engine process can still be attached to them.
package workflow
