package store

import (
	"context"
	"sync"
)

// Batch is a WriteBatch that hands its buffered writes to a commit function.
// Implementations share it and only provide the commit step.
type Batch struct {
	mu        sync.Mutex
	writes    []Write
	committed bool
	commit    func(ctx context.Context, writes []Write) error
}

// NewBatch returns an empty batch.
func NewBatch(commit func(ctx context.Context, writes []Write) error) *Batch {
	return &Batch{commit: commit}
}

// Set buffers a document write.
func (b *Batch) Set(ref Ref, data Data, opts ...SetOption) WriteBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, NewSet(ref, Clone(data), opts))
	return b
}

// Delete buffers a document delete.
func (b *Batch) Delete(ref Ref) WriteBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, Write{Ref: ref, Delete: true})
	return b
}

// Commit applies every buffered write atomically.
func (b *Batch) Commit(ctx context.Context) error {
	b.mu.Lock()
	if b.committed {
		b.mu.Unlock()
		return ErrCommitted
	}
	b.committed = true
	writes := b.writes
	b.writes = nil
	b.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}
	return b.commit(ctx, writes)
}

// Writes returns the buffered writes of a transaction in order.
type Writes struct {
	list []Write
}

// Set buffers a document write.
func (w *Writes) Set(ref Ref, data Data, opts ...SetOption) {
	w.list = append(w.list, NewSet(ref, Clone(data), opts))
}

// Delete buffers a document delete.
func (w *Writes) Delete(ref Ref) {
	w.list = append(w.list, Write{Ref: ref, Delete: true})
}

// List returns the buffered writes.
func (w *Writes) List() []Write { return w.list }

// Reset drops buffered writes before a retry.
func (w *Writes) Reset() { w.list = nil }
