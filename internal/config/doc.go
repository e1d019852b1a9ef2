// Package config loads, normalizes, and validates evalplane configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// EVALPLANE_API_BIND. The Config type centralizes every knob the daemon and CLI
// need, so the database location, artifact root, engine binary and worker pool
// sizing are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
