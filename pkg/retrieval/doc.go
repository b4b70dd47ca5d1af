// Package retrieval assembles the live search stack from configuration.
//
// The stack wires the concrete collaborators of the hybrid retriever in
// dependency order and owns their teardown:
//
//	┌──────────────────────────────────────────────┐
//	│                  Retriever                   │
//	│  backend leg          vector leg             │
//	│  ┌───────────┐   ┌──────────┐ ┌──────────┐   │
//	│  │  Property │   │ Embedder │ │   HNSW   │   │
//	│  │  Backend  │   │ (cached) │ │collection│   │
//	│  └───────────┘   └──────────┘ └──────────┘   │
//	│  fallback: Geocoder   routing: A/B Router    │
//	└──────────────────────────────────────────────┘
//
// Serve, search, chat and eval commands all open the same stack; tests
// that need fakes construct search.NewRetriever directly instead.
package retrieval
