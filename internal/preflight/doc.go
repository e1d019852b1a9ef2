// Package preflight provides readiness checks for the filesystem paths,
// engine executable and listen address evalplane depends on.
//
// These checks run in two contexts:
//   - The CLI "evalplane preflight" command runs RunAll and exits non-zero
//     when a check fails.
//   - The daemon reports CheckSystemDeps in its status payload so operators
//     can see a missing engine before submitting runs.
package preflight
