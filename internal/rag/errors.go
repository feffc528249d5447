package rag

import "errors"

// ErrEmptyDocument is returned when a document yields no extractable text
// and therefore no chunks. An index is never built (or cached) for such a
// document; a retried upload of the same content re-attempts the build.
var ErrEmptyDocument = errors.New("rag: document has no extractable text")

// ErrEmbedding tags failures of the embedding backend (unreachable service,
// malformed response, dimension mismatch). Match with errors.Is.
var ErrEmbedding = errors.New("rag: embedding failed")
