// Package view multiplexes many logical record tables onto one physical
// byte-ordered store. Every record kind owns a one-byte prefix; a physical
// key is always prefix || encode(logical key), so iteration stays scoped to
// a single kind and a single copy-on-write overlay can back the whole state.
package view

import (
	"errors"
	"fmt"

	"github.com/Mixa84/ain/observability/metrics"
	"github.com/Mixa84/ain/storage"
)

// Prefix is the one-byte discriminant identifying a record kind.
type Prefix byte

// ErrReplaceMissing is returned by Replace when the record being replaced
// does not exist. Callers map it to their not-found taxonomy.
var ErrReplaceMissing = errors.New("view: replace of absent record")

// KeyMarshaler encodes a logical key to its canonical bytes.
type KeyMarshaler interface {
	MarshalDBKey() ([]byte, error)
}

// KeyUnmarshaler decodes a logical key from its canonical bytes.
type KeyUnmarshaler interface {
	UnmarshalDBKey(b []byte) error
}

// ValueMarshaler encodes a record value to its canonical bytes.
type ValueMarshaler interface {
	MarshalDBValue() ([]byte, error)
}

// ValueUnmarshaler decodes a record value from its canonical bytes.
type ValueUnmarshaler interface {
	UnmarshalDBValue(b []byte) error
}

// RawKey adapts a plain byte string to the key interfaces.
type RawKey []byte

func (k RawKey) MarshalDBKey() ([]byte, error) { return k, nil }

func (k *RawKey) UnmarshalDBKey(b []byte) error {
	*k = append(RawKey(nil), b...)
	return nil
}

// View exposes typed record-table operations over a physical store, normally
// a storage.Overlay staged on the last flushed state.
type View struct {
	db storage.Database
}

func New(db storage.Database) *View {
	return &View{db: db}
}

// Backend returns the physical store the view writes to.
func (v *View) Backend() storage.Database {
	return v.db
}

func (v *View) physicalKey(p Prefix, key KeyMarshaler) ([]byte, error) {
	encoded, err := key.MarshalDBKey()
	if err != nil {
		return nil, fmt.Errorf("view: marshal %s key: %w", Name(p), err)
	}
	buf := make([]byte, 1, 1+len(encoded))
	buf[0] = byte(p)
	return append(buf, encoded...), nil
}

// prefixLimit is the exclusive upper bound of a prefix's keyspace.
func prefixLimit(p Prefix) []byte {
	if p == 0xFF {
		return nil
	}
	return []byte{byte(p) + 1}
}

// Write upserts the record under prefix || encode(key). It only fails on a
// codec or storage error, both of which indicate a corrupted call site.
func (v *View) Write(p Prefix, key KeyMarshaler, value ValueMarshaler) error {
	physical, err := v.physicalKey(p, key)
	if err != nil {
		return err
	}
	encoded, err := value.MarshalDBValue()
	if err != nil {
		return fmt.Errorf("view: marshal %s value: %w", Name(p), err)
	}
	metrics.State().ObserveWrite(Name(p))
	return v.db.Put(physical, encoded)
}

// Read performs a point lookup; absence is a normal outcome reported via the
// boolean, not an error.
func (v *View) Read(p Prefix, key KeyMarshaler, out ValueUnmarshaler) (bool, error) {
	physical, err := v.physicalKey(p, key)
	if err != nil {
		return false, err
	}
	metrics.State().ObserveRead(Name(p))
	raw, ok, err := v.db.Get(physical)
	if err != nil || !ok {
		return false, err
	}
	if err := out.UnmarshalDBValue(raw); err != nil {
		return false, fmt.Errorf("view: decode %s value: %w", Name(p), err)
	}
	return true, nil
}

// Exists reports whether a record is present without decoding it.
func (v *View) Exists(p Prefix, key KeyMarshaler) (bool, error) {
	physical, err := v.physicalKey(p, key)
	if err != nil {
		return false, err
	}
	metrics.State().ObserveRead(Name(p))
	return v.db.Has(physical)
}

// Erase deletes the record; erasing an absent key is a no-op.
func (v *View) Erase(p Prefix, key KeyMarshaler) error {
	physical, err := v.physicalKey(p, key)
	if err != nil {
		return err
	}
	metrics.State().ObserveErase(Name(p))
	return v.db.Delete(physical)
}

// Replace overwrites an existing record in place. The physical key does not
// change, so the overwrite is a single atomic upsert; the prior record must
// exist or ErrReplaceMissing is returned and nothing is written.
func (v *View) Replace(p Prefix, key KeyMarshaler, value ValueMarshaler) error {
	ok, err := v.Exists(p, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("view: %s: %w", Name(p), ErrReplaceMissing)
	}
	return v.Write(p, key, value)
}

// ForEach iterates the prefix's records in ascending byte order starting at
// encode(start) (or the first record when start is nil), invoking fn with the
// logical key and raw value. Iteration stops when fn returns false or the
// prefix's keyspace ends. Key and value buffers are only valid inside fn.
func (v *View) ForEach(p Prefix, start KeyMarshaler, fn func(key, value []byte) bool) error {
	first := []byte{byte(p)}
	if start != nil {
		var err error
		if first, err = v.physicalKey(p, start); err != nil {
			return err
		}
	}
	metrics.State().ObserveIteration(Name(p))
	it := v.db.NewIterator(first, prefixLimit(p))
	defer it.Release()
	for it.Next() {
		if !fn(it.Key()[1:], it.Value()) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("view: iterate %s: %w", Name(p), err)
	}
	return nil
}

// LowerBound positions a cursor at the first record whose physical key is
// greater than or equal to prefix || encode(key). The caller must Release
// the cursor.
func (v *View) LowerBound(p Prefix, key KeyMarshaler) (*Cursor, error) {
	physical, err := v.physicalKey(p, key)
	if err != nil {
		return nil, err
	}
	metrics.State().ObserveIteration(Name(p))
	it := v.db.NewIterator(physical, prefixLimit(p))
	c := &Cursor{prefix: p, it: it}
	c.valid = it.Next()
	return c, nil
}

// Cursor points at a single record inside one prefix's keyspace.
type Cursor struct {
	prefix Prefix
	it     storage.Iterator
	valid  bool
}

// Valid reports whether the cursor is positioned on a record of its prefix.
func (c *Cursor) Valid() bool {
	return c.valid
}

// Key returns the logical key bytes at the cursor.
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.it.Key()[1:]
}

// Value returns the raw value bytes at the cursor.
func (c *Cursor) Value() []byte {
	if !c.valid {
		return nil
	}
	return c.it.Value()
}

// DecodeKey decodes the logical key at the cursor.
func (c *Cursor) DecodeKey(out KeyUnmarshaler) error {
	if !c.valid {
		return fmt.Errorf("view: %s cursor not valid", Name(c.prefix))
	}
	if err := out.UnmarshalDBKey(c.Key()); err != nil {
		return fmt.Errorf("view: decode %s key: %w", Name(c.prefix), err)
	}
	return nil
}

// DecodeValue decodes the record value at the cursor.
func (c *Cursor) DecodeValue(out ValueUnmarshaler) error {
	if !c.valid {
		return fmt.Errorf("view: %s cursor not valid", Name(c.prefix))
	}
	if err := out.UnmarshalDBValue(c.it.Value()); err != nil {
		return fmt.Errorf("view: decode %s value: %w", Name(c.prefix), err)
	}
	return nil
}

// Next advances to the following record of the same prefix.
func (c *Cursor) Next() {
	if c.valid {
		c.valid = c.it.Next()
	}
}

func (c *Cursor) Release() {
	c.it.Release()
}
