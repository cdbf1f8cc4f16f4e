package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Mixa84/ain/observability/metrics"
)

// Overlay stages writes and deletes on top of a parent Database without
// touching it. The parent stays readable by concurrent queries while a block
// is being applied; Flush commits the staged changes to the parent as a
// single batch, Discard throws them away. Overlays nest, which is how a
// transaction is test-applied without committing.
//
// Exactly one writer may use an overlay at a time; that is enforced by the
// block-application caller, the mutex here only keeps readers consistent.
type Overlay struct {
	mu      sync.RWMutex
	parent  Database
	stage   *memdb.DB
	dropped map[string]struct{}
}

func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		stage:   memdb.New(comparer.DefaultComparer, memdbCapacity),
		dropped: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, gone := o.dropped[string(key)]; gone {
		return nil, false, nil
	}
	value, err := o.stage.Get(key)
	if err == nil {
		// The stage reuses its arena on overwrites; hand out a copy so the
		// caller's slice survives a later Put of the same key.
		return append([]byte(nil), value...), true, nil
	}
	if !errors.Is(err, memdb.ErrNotFound) {
		return nil, false, err
	}
	return o.parent.Get(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.dropped, string(key))
	return o.stage.Put(key, value)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stage.Delete(key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
		return err
	}
	o.dropped[string(key)] = struct{}{}
	return nil
}

func (o *Overlay) Has(key []byte) (bool, error) {
	_, ok, err := o.Get(key)
	return ok, err
}

func (o *Overlay) NewIterator(start, limit []byte) Iterator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	staged := o.stage.NewIterator(&util.Range{Start: start, Limit: limit})
	return &overlayIterator{
		stage:   &leveldbIterator{it: staged},
		parent:  o.parent.NewIterator(start, limit),
		dropped: o.dropped,
	}
}

func (o *Overlay) WriteBatch(batch *Batch) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range batch.ops {
		if op.del {
			if err := o.stage.Delete(op.key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
				return err
			}
			o.dropped[string(op.key)] = struct{}{}
			continue
		}
		delete(o.dropped, string(op.key))
		if err := o.stage.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

// Flush commits all staged changes to the parent as one atomic batch and
// resets the overlay for reuse.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := NewBatch()
	for key := range o.dropped {
		batch.Delete([]byte(key))
	}
	it := o.stage.NewIterator(nil)
	for it.Next() {
		batch.Put(it.Key(), it.Value())
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	if err := o.parent.WriteBatch(batch); err != nil {
		return err
	}
	metrics.State().ObserveFlush(batch.Len())
	o.reset()
	return nil
}

// Discard drops all staged changes without touching the parent.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

// Dirty reports the number of staged entries (writes plus tombstones).
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stage.Len() + len(o.dropped)
}

func (o *Overlay) reset() {
	o.stage.Reset()
	o.dropped = make(map[string]struct{})
}

// Close discards the stage; the parent stays open, it is owned by the caller.
func (o *Overlay) Close() error {
	o.Discard()
	return nil
}

// overlayIterator merges the staged and parent streams in ascending byte
// order. Staged entries shadow parent entries with the same key, tombstones
// hide parent entries entirely.
type overlayIterator struct {
	stage   Iterator
	parent  Iterator
	dropped map[string]struct{}

	started       bool
	stageValid    bool
	parentValid   bool
	key, value    []byte
	err           error
	releasedState bool
}

func (it *overlayIterator) Next() bool {
	if it.err != nil || it.releasedState {
		return false
	}
	if !it.started {
		it.started = true
		it.stageValid = it.stage.Next()
		it.parentValid = it.advanceParent()
	}
	if !it.stageValid && !it.parentValid {
		return false
	}
	var takeStage bool
	if !it.parentValid {
		takeStage = true
	} else if !it.stageValid {
		takeStage = false
	} else {
		switch bytes.Compare(it.stage.Key(), it.parent.Key()) {
		case -1:
			takeStage = true
		case 0:
			// Staged write shadows the flushed value.
			takeStage = true
			it.parentValid = it.advanceParent()
		default:
			takeStage = false
		}
	}
	if takeStage {
		it.setCurrent(it.stage.Key(), it.stage.Value())
		it.stageValid = it.stage.Next()
	} else {
		it.setCurrent(it.parent.Key(), it.parent.Value())
		it.parentValid = it.advanceParent()
	}
	return true
}

// setCurrent copies the source buffers into iterator-owned ones. The merge
// pre-advances the sources, and goleveldb's on-disk iterator reuses its
// key/value buffers on Next.
func (it *overlayIterator) setCurrent(key, value []byte) {
	it.key = append(it.key[:0], key...)
	it.value = append(it.value[:0], value...)
}

// advanceParent steps the parent iterator past any tombstoned keys.
func (it *overlayIterator) advanceParent() bool {
	for it.parent.Next() {
		if _, gone := it.dropped[string(it.parent.Key())]; !gone {
			return true
		}
	}
	return false
}

func (it *overlayIterator) Key() []byte   { return it.key }
func (it *overlayIterator) Value() []byte { return it.value }

func (it *overlayIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if err := it.stage.Error(); err != nil {
		return err
	}
	return it.parent.Error()
}

func (it *overlayIterator) Release() {
	if it.releasedState {
		return
	}
	it.releasedState = true
	it.stage.Release()
	it.parent.Release()
}
