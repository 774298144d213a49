// Package index builds a lexical, grep-style view of a cloned workspace
// and serves short code excerpts relevant to a query string. It satisfies
// the orchestrator's Indexer interface; semantic/embedding-backed search
// is out of scope.
package index
