// Package services defines shared utilities consumed by the run orchestrator,
// the ingestion pipeline, and the API boundary.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, worker numbers, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (client error vs engine failure) with errors.Is.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the control plane.
package services
