// Package types holds the primitive value types shared by every state
// component: transaction ids, token ids, fixed-point amounts and raw
// locking scripts.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Mixa84/ain/core/serialize"
)

// TxID identifies the transaction that created a record. It is immutable and
// globally unique within a record kind, and serves as the record's primary
// key.
type TxID [32]byte

// HashTxData derives a transaction id from a raw payload.
func HashTxData(data []byte) TxID {
	var id TxID
	copy(id[:], ethcrypto.Keccak256(data))
	return id
}

// TxIDFromHex parses a 64-character hex string.
func TxIDFromHex(s string) (TxID, error) {
	var id TxID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return TxID{}, fmt.Errorf("types: invalid tx id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return TxID{}, fmt.Errorf("types: tx id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is unset. A zero close tx means the record is
// still open.
func (id TxID) IsZero() bool {
	return id == TxID{}
}

func (id TxID) MarshalDBKey() ([]byte, error) {
	return append([]byte(nil), id[:]...), nil
}

func (id *TxID) UnmarshalDBKey(b []byte) error {
	if len(b) != len(id) {
		return fmt.Errorf("types: tx id key must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}

// Secondary indexes store a bare creation tx as their value.
func (id TxID) MarshalDBValue() ([]byte, error) {
	return append([]byte(nil), id[:]...), nil
}

func (id *TxID) UnmarshalDBValue(b []byte) error {
	if len(b) != len(id) {
		return fmt.Errorf("types: tx id value must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}

// TokenID references a fungible token in the external token registry.
type TokenID uint32

func (id TokenID) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// Token ids in index keys are big endian so that records of one token group
// together and ascend numerically under byte order.
func (id TokenID) MarshalDBKey() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(id))
	return buf, nil
}

func (id *TokenID) UnmarshalDBKey(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("types: token id key must be 4 bytes, got %d", len(b))
	}
	*id = TokenID(binary.BigEndian.Uint32(b))
	return nil
}

// As an index value the id uses the canonical varint form.
func (id TokenID) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteVarUint(uint64(id))
	return w.Bytes(), nil
}

func (id *TokenID) UnmarshalDBValue(b []byte) error {
	r := serialize.NewReader(b)
	v, err := r.ReadVarUint()
	if err != nil {
		return err
	}
	if v > uint64(^uint32(0)) {
		return fmt.Errorf("types: token id %d out of range", v)
	}
	if err := r.Done(); err != nil {
		return err
	}
	*id = TokenID(v)
	return nil
}

// Amount is a fixed-point quantity with eight decimal places.
type Amount int64

// Coin is one whole unit in Amount's fixed-point representation.
const Coin Amount = 100_000_000

// Script is a raw locking script identifying an account.
type Script []byte
