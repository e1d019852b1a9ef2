// Package api is the HTTP boundary of evalplane. It holds the run and catalog
// services shared by the HTTP handlers and the CLI, the wire-format DTOs those
// services return, and the gin router that exposes them.
//
// # Services
//
// RunService: job specification submission, run listing and inspection,
// comparison, manual re-ingestion, and per-sample detail paging.
//
// CatalogService: benchmark lookup with live engine inspection, pack listing,
// and leaderboards.
//
// # Design Notes
//
// Pack and leaderboard DTOs use camelCase JSON tags. Run payloads are the
// store's snake_case records passed through unchanged. Timestamps use RFC3339
// with milliseconds. Errors map to status codes by sentinel: validation
// failures are 400, missing records are 404, and everything else is 500.
package api
