// Package main hosts the evalplane CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon (serve) and offers local maintenance
// commands that work directly against the run store: submitting job
// specifications, importing pack files, syncing the benchmark catalog, and
// printing run, pack, and leaderboard views. Submitted runs are picked up by a
// running daemon on its next queue poll.
//
// Keep this package lean: behavior belongs in the internal packages and is
// only surfaced here.
package main
