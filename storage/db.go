package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Database is a byte-ordered key-value store. All iteration is strictly
// byte-lexicographic so that every node observes records in the same order.
// This allows the state layer to use any backend (in-memory or persistent).
type Database interface {
	// Get returns the stored value and whether the key was present.
	Get(key []byte) ([]byte, bool, error)
	Put(key []byte, value []byte) error
	// Delete removes a key; deleting an absent key is a no-op.
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// NewIterator iterates keys k with start <= k < limit in ascending byte
	// order. A nil start begins at the first key, a nil limit runs to the end.
	// Key and Value buffers are only valid until the next call to Next.
	NewIterator(start, limit []byte) Iterator
	// WriteBatch applies all operations in the batch as one atomic unit.
	WriteBatch(batch *Batch) error
	Close() error
}

// Iterator walks a key range in ascending byte order. Next must be called
// before the first access; it reports whether the iterator moved onto an
// entry.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// --- Persistent DB ---

// LevelDB is a durable Database backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, bool, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) NewIterator(start, limit []byte) Iterator {
	it := ldb.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	return &leveldbIterator{it: it}
}

func (ldb *LevelDB) WriteBatch(batch *Batch) error {
	wb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.del {
			wb.Delete(op.key)
		} else {
			wb.Put(op.key, op.value)
		}
	}
	return ldb.db.Write(wb, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type leveldbIterator struct {
	it interface {
		Next() bool
		Key() []byte
		Value() []byte
		Error() error
		Release()
	}
}

func (l *leveldbIterator) Next() bool    { return l.it.Next() }
func (l *leveldbIterator) Key() []byte   { return l.it.Key() }
func (l *leveldbIterator) Value() []byte { return l.it.Value() }
func (l *leveldbIterator) Error() error  { return l.it.Error() }
func (l *leveldbIterator) Release()      { l.it.Release() }

// --- In-memory DB ---

// MemDB is an ordered in-memory Database used by tests and as the staging
// area of an Overlay. It wraps goleveldb's memdb so that iteration order is
// identical to the persistent backend.
type MemDB struct {
	mu sync.RWMutex
	db *memdb.DB
}

const memdbCapacity = 1 << 16

func NewMemDB() *MemDB {
	return &MemDB{db: memdb.New(comparer.DefaultComparer, memdbCapacity)}
}

func (m *MemDB) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, err := m.db.Get(key)
	if errors.Is(err, memdb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *MemDB) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(key, value)
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Delete(key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
		return err
	}
	return nil
}

func (m *MemDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Contains(key), nil
}

func (m *MemDB) NewIterator(start, limit []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.db.NewIterator(&util.Range{Start: start, Limit: limit})
	return &leveldbIterator{it: it}
}

func (m *MemDB) WriteBatch(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range batch.ops {
		if op.del {
			if err := m.db.Delete(op.key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
				return err
			}
			continue
		}
		if err := m.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (m *MemDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db.Reset()
	return nil
}
