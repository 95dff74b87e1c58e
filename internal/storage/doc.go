// Package storage provides the durable file primitives used by the engine:
// atomic replace-by-rename writes, JSONL journals, content fingerprints,
// and an advisory lock that serializes writers of the same database.
package storage
