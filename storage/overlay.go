package storage

import "sort"

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch is an ordered list of writes applied atomically by Database.Write.
type Batch struct {
	ops []batchOp
}

// Put queues a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete queues a removal.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

type pendingValue struct {
	value   []byte
	deleted bool
}

// Overlay buffers writes on top of a base database. Reads observe the
// buffered writes; nothing reaches the base until Commit. Discard drops the
// buffer, which is how a failed unit of work leaves no partial effect.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	base    Database
	pending map[string]pendingValue
}

// NewOverlay creates an empty write buffer over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, pending: make(map[string]pendingValue)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if entry, ok := o.pending[string(key)]; ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.pending[string(key)] = pendingValue{value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.pending[string(key)] = pendingValue{deleted: true}
	return nil
}

// Write folds an external batch into the buffer.
func (o *Overlay) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	for _, op := range batch.ops {
		if op.delete {
			_ = o.Delete(op.key)
			continue
		}
		_ = o.Put(op.key, op.value)
	}
	return nil
}

// Dirty reports whether the overlay holds uncommitted writes.
func (o *Overlay) Dirty() bool {
	return len(o.pending) > 0
}

// Commit flushes every buffered write to the base in one batch and resets the
// buffer. Keys are written in sorted order so commits are deterministic.
func (o *Overlay) Commit() error {
	if len(o.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(Batch)
	for _, k := range keys {
		entry := o.pending[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := o.base.Write(batch); err != nil {
		return err
	}
	o.pending = make(map[string]pendingValue)
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.pending = make(map[string]pendingValue)
}

// Close is a no-op; the base database is owned by the caller.
func (o *Overlay) Close() {}
