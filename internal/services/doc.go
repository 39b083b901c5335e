// Package services defines shared utilities consumed by the pipeline stages
// and their infrastructure adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, queue names, and message
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into a consumer disposition (redeliver vs dead-letter).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
