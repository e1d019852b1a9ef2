// Package ingest turns an engine output directory into store rows.
//
// Ingest locates the results document and detail files under a run's output
// directory, extracts numeric task metrics, reproducibility hashes and the
// weighted pack score, and writes them in one transaction. Re-ingesting the
// same directory produces identical rows; a directory without a results file
// is a no-op.
package ingest
