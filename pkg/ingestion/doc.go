// Package ingestion assembles the sync stack from configuration: the
// Property Backend sync API, the embedding provider, the per-model HNSW
// collection, and the cycle pipeline with its exclusive index lock.
//
// One-shot commands run Pipeline.RunCycle or Drain directly; the serve
// path starts the Scheduler for an initial pass plus a periodic one.
package ingestion
