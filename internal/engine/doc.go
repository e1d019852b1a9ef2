// Package engine describes and launches evaluation engine processes.
//
// BuildEvalInvocation turns a job specification into a typed Invocation
// (binary, arguments, extra environment) without side effects, so callers
// can log or inspect the exact command before an Executor launches it. The
// Catalog type wraps the engine's task listing and inspection subcommands,
// whose JSON output feeds the benchmark registry.
package engine
