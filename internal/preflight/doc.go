// Package preflight checks that docsearch can index and search before a
// run starts.
//
// The checks cover the data directory (write access and free space), the
// open file limit used by watch mode, the configured source, the
// embedder, and whether an index exists yet. Required checks that fail
// stop `docsearch index`; the rest are advisory:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to index
//	}
package preflight
