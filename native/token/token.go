// Package token stores the fungible-token registry that the loan and order
// components resolve token references against.
package token

import (
	"fmt"
	"strings"

	"github.com/Mixa84/ain/core/serialize"
	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/common"
)

// MaxSymbolLength bounds a token symbol.
const MaxSymbolLength = 8

// Meta describes a registered fungible token.
type Meta struct {
	Symbol   string
	Name     string
	Decimals uint8
	Mintable bool
}

func (m *Meta) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteString(m.Symbol)
	w.WriteString(m.Name)
	w.WriteUint8(m.Decimals)
	w.WriteBool(m.Mintable)
	return w.Bytes(), nil
}

func (m *Meta) UnmarshalDBValue(b []byte) error {
	r := serialize.NewReader(b)
	var err error
	if m.Symbol, err = r.ReadString(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Decimals, err = r.ReadUint8(); err != nil {
		return err
	}
	if m.Mintable, err = r.ReadBool(); err != nil {
		return err
	}
	return r.Done()
}

// Registry is the lookup surface consumed by the loan registry and the order
// book. Both lookups treat absence as a normal outcome.
type Registry interface {
	Lookup(id types.TokenID) (*Meta, bool, error)
	LookupBySymbol(symbol string) (*Meta, types.TokenID, bool, error)
}

var (
	byIDPrefix     = view.MustRegisterPrefix(0x01, "token/by-id")
	bySymbolPrefix = view.MustRegisterPrefix(0x02, "token/by-symbol")
)

// Store persists token metadata under two indexes: id -> meta and
// symbol -> id.
type Store struct {
	view *view.View
}

func NewStore(v *view.View) *Store {
	return &Store{view: v}
}

func symbolKey(symbol string) view.RawKey {
	return view.RawKey(symbol)
}

// Register records a new token. Both the id and the symbol must be unused.
func (s *Store) Register(id types.TokenID, meta Meta) error {
	symbol := strings.TrimSpace(meta.Symbol)
	if symbol == "" || len(symbol) > MaxSymbolLength {
		return common.Fieldf("symbol", "must be 1 to %d characters", MaxSymbolLength)
	}
	meta.Symbol = symbol
	if ok, err := s.view.Exists(byIDPrefix, id); err != nil {
		return fmt.Errorf("token: check id %s: %w", id, err)
	} else if ok {
		return fmt.Errorf("token: id %s: %w", id, common.ErrAlreadyExists)
	}
	if ok, err := s.view.Exists(bySymbolPrefix, symbolKey(symbol)); err != nil {
		return fmt.Errorf("token: check symbol %q: %w", symbol, err)
	} else if ok {
		return fmt.Errorf("token: symbol %q: %w", symbol, common.ErrAlreadyExists)
	}
	if err := s.view.Write(byIDPrefix, id, &meta); err != nil {
		return err
	}
	return s.view.Write(bySymbolPrefix, symbolKey(symbol), &id)
}

func (s *Store) Lookup(id types.TokenID) (*Meta, bool, error) {
	meta := new(Meta)
	ok, err := s.view.Read(byIDPrefix, id, meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return meta, true, nil
}

func (s *Store) LookupBySymbol(symbol string) (*Meta, types.TokenID, bool, error) {
	var id types.TokenID
	ok, err := s.view.Read(bySymbolPrefix, symbolKey(strings.TrimSpace(symbol)), &id)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	meta, ok, err := s.Lookup(id)
	if err != nil {
		return nil, 0, false, err
	}
	if !ok {
		return nil, 0, false, fmt.Errorf("token: symbol %q points at missing id %s", symbol, id)
	}
	return meta, id, true, nil
}

// ForEach enumerates registered tokens in ascending id order.
func (s *Store) ForEach(fn func(id types.TokenID, meta Meta) bool) error {
	var walkErr error
	err := s.view.ForEach(byIDPrefix, nil, func(key, value []byte) bool {
		var id types.TokenID
		if walkErr = id.UnmarshalDBKey(key); walkErr != nil {
			return false
		}
		var meta Meta
		if walkErr = meta.UnmarshalDBValue(value); walkErr != nil {
			return false
		}
		return fn(id, meta)
	})
	if err != nil {
		return err
	}
	return walkErr
}
