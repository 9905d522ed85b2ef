// Package research keeps the searchable read index current: it consumes
// completed de-identification jobs, deduplicates redeliveries, and writes
// index documents, reporting progress for tracked jobs along the way.
package research

import (
	"context"
	"sort"
	"sync"
	"time"
)

// IndexDocument is one entry of the research read index.
type IndexDocument struct {
	DocumentID      string    `json:"documentId"`
	TenantID        string    `json:"tenantId"`
	JobID           string    `json:"jobId"`
	PayloadLocation string    `json:"payloadLocation"`
	IndexedAt       time.Time `json:"indexedAt"`
}

// IndexRepository stores and serves index documents.
type IndexRepository interface {
	Save(ctx context.Context, doc IndexDocument) error
	FindByID(ctx context.Context, documentID string) (IndexDocument, bool, error)
	FindByTenant(ctx context.Context, tenantID string) ([]IndexDocument, error)
	All(ctx context.Context) ([]IndexDocument, error)
}

// InMemoryIndexRepo is the local search-index stand-in used until the real
// search cluster is wired at the edge. Safe for concurrent use.
type InMemoryIndexRepo struct {
	mu   sync.RWMutex
	docs map[string]IndexDocument
}

func NewInMemoryIndexRepo() *InMemoryIndexRepo {
	return &InMemoryIndexRepo{docs: make(map[string]IndexDocument)}
}

func (r *InMemoryIndexRepo) Save(ctx context.Context, doc IndexDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.DocumentID] = doc
	return nil
}

func (r *InMemoryIndexRepo) FindByID(ctx context.Context, documentID string) (IndexDocument, bool, error) {
	if err := ctx.Err(); err != nil {
		return IndexDocument{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[documentID]
	return doc, ok, nil
}

func (r *InMemoryIndexRepo) FindByTenant(ctx context.Context, tenantID string) ([]IndexDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]IndexDocument, 0)
	for _, doc := range r.docs {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	sortByIndexedAt(out)
	return out, nil
}

func (r *InMemoryIndexRepo) All(ctx context.Context) ([]IndexDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]IndexDocument, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, doc)
	}
	sortByIndexedAt(out)
	return out, nil
}

func sortByIndexedAt(docs []IndexDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].IndexedAt.Equal(docs[j].IndexedAt) {
			return docs[i].DocumentID < docs[j].DocumentID
		}
		return docs[i].IndexedAt.Before(docs[j].IndexedAt)
	})
}
