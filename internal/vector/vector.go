// Package vector adapts an external vector database behind a small interface
// so ingestion and retrieval never depend on a concrete backend.
package vector

import "context"

// Record is one embedded chunk ready for upsert.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a similarity hit returned by a query.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Index is the contract the pipeline depends on. Namespaces partition
// records per agent; a namespace must never be empty because backend
// defaults would silently merge agents into one shared space.
type Index interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, values []float32, topK int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}
