// Package jobspec defines the job specification submitted to start an
// evaluation run.
//
// Parse checks raw JSON against an embedded JSON Schema (gojsonschema), decodes
// into typed structs, and applies defaults (jobspec_version "1",
// num_fewshot_seeds 1). Task ids are normalized into engine task keys by
// NormalizeTaskSpec. Validation failures wrap services.ErrValidation so the API
// boundary can answer 400 without inspecting messages.
package jobspec
