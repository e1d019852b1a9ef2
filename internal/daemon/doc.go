// Package daemon owns the long-running evalplane process lifecycle.
//
// It combines the run store, the workflow manager, and the HTTP API server
// under a single flock-guarded instance so two daemons never share a data
// directory. Evaluation logic lives in the engine, orchestrator, and ingest
// packages; the daemon only starts, stops, and reports on them.
package daemon
