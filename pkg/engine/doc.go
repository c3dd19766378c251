// Package engine provides the stage orchestrator for scene reconstruction pipelines.
//
// # Overview
//
// A Pipeline is a fixed, ordered list of Stages over one scene directory. Each stage
// either launches an external tool inside a named runtime environment or runs a short
// in-process Action. The Orchestrator walks the list strictly in order:
//
//  1. Check declared Inputs exist
//  2. Create EnsureDirs and empty Resets
//  3. Resolve the invocation (launcher, working directory, environment overrides)
//  4. Launch the tool synchronously and wait for it to exit
//
// A stage succeeds only when its tool exits with status 0. The first failure aborts the
// run: later stages stay pending and the process exits with the failing tool's code.
//
// # Error Handling
//
// All errors are classified with an ErrorClass:
//
//   - Configuration: missing artifacts, unknown runtime, bad pipeline definitions
//   - External: a tool exited non-zero; ExitCode carries the tool's code
//   - Conflict: an on-disk conflict such as an alias that already exists
//   - Interrupted: the operator interrupted the run
//   - Internal: failures of the orchestrator itself
//
// ExitCode maps any error to the process exit code.
//
// # Re-entrancy
//
// Stages are written to be re-run after a failure: Resets directories are emptied,
// EnsureDirs are created if absent and regenerated documents are replaced atomically.
// Alias creation is the exception and reports a conflict when the alias exists.
package engine
