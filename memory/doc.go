// Package memory defines the core data model for agent memory: items,
// tool-call history, categories, and resources, plus the Store, Embedder,
// and Index contracts that backends implement.
//
// Memories are namespaced by scope (a user+agent pair or similar tenant
// boundary). All uniqueness constraints, including content hashes and
// category names, are keyed per scope.
//
// Deduplication:
//   - Items are deduplicated by content hash (normalized summary + type).
//     Re-ingesting the same fact reinforces the existing item instead of
//     inserting a duplicate; reinforcement count and recency feed the
//     salience ranking in package rank.
//
// Backends:
//   - store/memstore: in-memory reference implementation
//   - store/sqlite: SQLite persistence (modernc.org/sqlite, pure Go)
//   - index/chromem: embedded vector index for candidate pre-selection
//
// Embedders:
//   - embedder/mock: deterministic hash-based vectors for tests and demos
//   - embedder/httpapi: Ollama-style HTTP embedding service
//   - embedder/onnx: local ONNX model (build tag "onnx")
//   - embedder/cached: ristretto read-through cache around any Embedder
package memory
