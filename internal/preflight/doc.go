// Package preflight backs the doctor command: it verifies that the data
// directory, the vector index, the conversation database, and the
// external services (backend API, embedder, LLM, geocoder) are in a
// state the engine can run with.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
//
// Checks against remote services are advisory: the engine degrades
// (static embedder, structured-only retrieval) rather than failing, so
// those checks warn instead of failing.
package preflight
