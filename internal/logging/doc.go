// Package logging configures structured slog output for docsearch.
//
// Logs are JSON lines written to a size-rotated file under ~/.docsearch/logs
// and optionally mirrored to stderr. Message keys are snake_case event names
// (index_run_started, chunk_strategy_degraded, fetch_retry) with typed
// attributes, so the file can be filtered with jq.
package logging
