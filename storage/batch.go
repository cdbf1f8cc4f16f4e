package storage

type batchOp struct {
	del   bool
	key   []byte
	value []byte
}

// Batch collects an ordered list of put and delete operations so a backend
// can apply them atomically. Keys and values are copied on append, so callers
// may reuse their buffers.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{
		del: true,
		key: append([]byte(nil), key...),
	})
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}
