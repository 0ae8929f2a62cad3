package assignment

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps assignment records in nested maps guarded by a
// RWMutex. Mutations replace whole records, matching the upsert semantics
// of the SQL backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[Dimension]map[string]*Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[Dimension]map[string]*Record)}
}

// Upsert implements Backend.Upsert.
func (b *MemoryBackend) Upsert(ctx context.Context, dim Dimension, scopeKey string, nodeIDs []string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.records[dim] == nil {
		b.records[dim] = make(map[string]*Record)
	}
	rec := &Record{
		Dimension: dim,
		ScopeKey:  scopeKey,
		NodeIDs:   append([]string(nil), nodeIDs...),
		UpdatedAt: time.Now().UTC(),
	}
	b.records[dim][scopeKey] = rec
	return cloneRecord(rec), nil
}

// Get implements Backend.Get.
func (b *MemoryBackend) Get(ctx context.Context, dim Dimension, scopeKey string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec := b.records[dim][scopeKey]
	if rec == nil {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Remove implements Backend.Remove.
func (b *MemoryBackend) Remove(ctx context.Context, dim Dimension, scopeKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records[dim], scopeKey)
	return nil
}

// List implements Backend.List.
func (b *MemoryBackend) List(ctx context.Context, dim Dimension) ([]*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	records := make([]*Record, 0, len(b.records[dim]))
	for _, rec := range b.records[dim] {
		records = append(records, cloneRecord(rec))
	}
	return records, nil
}

// RemoveNodeRefs implements Backend.RemoveNodeRefs.
func (b *MemoryBackend) RemoveNodeRefs(ctx context.Context, nodeIDs []string) error {
	gone := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		gone[id] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for dim, byKey := range b.records {
		for key, rec := range byKey {
			kept := rec.NodeIDs[:0]
			for _, id := range rec.NodeIDs {
				if !gone[id] {
					kept = append(kept, id)
				}
			}
			rec.NodeIDs = kept
			if len(kept) == 0 {
				delete(b.records[dim], key)
			} else {
				rec.UpdatedAt = time.Now().UTC()
			}
		}
	}
	return nil
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	c.NodeIDs = append([]string(nil), rec.NodeIDs...)
	c.Nodes = nil
	return &c
}
