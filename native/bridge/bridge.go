// Package bridge builds and decodes the account-remapping message exchanged
// with the external execution environment, and stores the write-once record
// anchoring a message to its host transaction.
package bridge

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Mixa84/ain/core/serialize"
	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/common"
)

// MaxPayloadSize bounds an encoded bridge message.
const MaxPayloadSize = 32768

// Direction states which account space the balances move into.
type Direction uint8

const (
	DirectionIn  Direction = 0x01
	DirectionOut Direction = 0x02
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "EvmIn"
	case DirectionOut:
		return "EvmOut"
	}
	return "Unknown"
}

// Balance is one token quantity inside a transfer bundle.
type Balance struct {
	TokenID types.TokenID
	Amount  types.Amount
}

// Balances is a token-balance bundle, kept sorted by token id with unique
// ids so the encoding is canonical.
type Balances []Balance

// Transfer moves a balance bundle from a source script to a destination
// script.
type Transfer struct {
	Source      types.Script
	Destination types.Script
	Balances    Balances
}

// Message is the bridge payload: transfers plus a direction flag. Business
// validation (ownership, sufficient balance, address form) happens before
// encoding and is out of scope here.
type Message struct {
	Transfers []Transfer
	Direction Direction
}

func transferLess(a, b Transfer) bool {
	if c := bytes.Compare(a.Source, b.Source); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Destination, b.Destination) < 0
}

// Normalize sorts transfers by (source, destination) and balances by token
// id, the canonical order, and rejects duplicate keys.
func (m *Message) Normalize() error {
	sort.Slice(m.Transfers, func(i, j int) bool {
		return transferLess(m.Transfers[i], m.Transfers[j])
	})
	for i := range m.Transfers {
		t := &m.Transfers[i]
		if i > 0 {
			prev := &m.Transfers[i-1]
			if bytes.Equal(prev.Source, t.Source) && bytes.Equal(prev.Destination, t.Destination) {
				return common.Fieldf("transfers", "duplicate (source, destination) pair")
			}
		}
		sort.Slice(t.Balances, func(a, b int) bool {
			return t.Balances[a].TokenID < t.Balances[b].TokenID
		})
		for j := 1; j < len(t.Balances); j++ {
			if t.Balances[j].TokenID == t.Balances[j-1].TokenID {
				return common.Fieldf("balances", "duplicate token id %s", t.Balances[j].TokenID)
			}
		}
	}
	return nil
}

// Encode serializes the message into its canonical byte form.
func (m *Message) Encode() ([]byte, error) {
	if !m.Direction.Valid() {
		return nil, common.Fieldf("direction", "unknown value 0x%02x", uint8(m.Direction))
	}
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	w := serialize.NewWriter()
	w.WriteCompactSize(uint64(len(m.Transfers)))
	for _, t := range m.Transfers {
		w.WriteBytes(t.Source)
		w.WriteBytes(t.Destination)
		w.WriteCompactSize(uint64(len(t.Balances)))
		for _, b := range t.Balances {
			w.WriteVarUint(uint64(b.TokenID))
			w.WriteInt64(int64(b.Amount))
		}
	}
	w.WriteUint8(uint8(m.Direction))
	payload := w.Bytes()
	if len(payload) > MaxPayloadSize {
		return nil, common.Fieldf("transfers", "encoded message exceeds %d bytes", MaxPayloadSize)
	}
	return payload, nil
}

// DecodeMessage parses a canonical payload. Non-canonical ordering, unknown
// direction bytes and trailing garbage are all codec errors: a payload that
// does not round trip byte for byte is corrupt.
func DecodeMessage(payload []byte) (*Message, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("bridge: payload of %d bytes exceeds limit: %w", len(payload), serialize.ErrCodec)
	}
	rd := serialize.NewReader(payload)
	count, err := rd.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	msg := new(Message)
	for i := uint64(0); i < count; i++ {
		var t Transfer
		source, err := rd.ReadBytes()
		if err != nil {
			return nil, err
		}
		t.Source = types.Script(source)
		destination, err := rd.ReadBytes()
		if err != nil {
			return nil, err
		}
		t.Destination = types.Script(destination)
		if len(msg.Transfers) > 0 {
			prev := msg.Transfers[len(msg.Transfers)-1]
			if !transferLess(prev, t) {
				return nil, fmt.Errorf("bridge: transfers not in canonical order: %w", serialize.ErrCodec)
			}
		}
		balanceCount, err := rd.ReadCompactSize()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < balanceCount; j++ {
			id, err := rd.ReadVarUint()
			if err != nil {
				return nil, err
			}
			amount, err := rd.ReadInt64()
			if err != nil {
				return nil, err
			}
			b := Balance{TokenID: types.TokenID(id), Amount: types.Amount(amount)}
			if len(t.Balances) > 0 && t.Balances[len(t.Balances)-1].TokenID >= b.TokenID {
				return nil, fmt.Errorf("bridge: balances not in canonical order: %w", serialize.ErrCodec)
			}
			t.Balances = append(t.Balances, b)
		}
		msg.Transfers = append(msg.Transfers, t)
	}
	direction, err := rd.ReadUint8()
	if err != nil {
		return nil, err
	}
	msg.Direction = Direction(direction)
	if !msg.Direction.Valid() {
		return nil, fmt.Errorf("bridge: direction byte 0x%02x: %w", direction, serialize.ErrCodec)
	}
	if err := rd.Done(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Record anchors a message to the transaction that carried it.
type Record struct {
	Message
	CreationTx     types.TxID
	CreationHeight uint32
}

func (r *Record) MarshalDBValue() ([]byte, error) {
	payload, err := r.Message.Encode()
	if err != nil {
		return nil, err
	}
	w := serialize.NewWriter()
	w.WriteBytes(payload)
	w.WriteRaw(r.CreationTx[:])
	w.WriteUint32(r.CreationHeight)
	return w.Bytes(), nil
}

func (r *Record) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	payload, err := rd.ReadBytes()
	if err != nil {
		return err
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		return err
	}
	r.Message = *msg
	raw, err := rd.ReadRaw(len(r.CreationTx))
	if err != nil {
		return err
	}
	copy(r.CreationTx[:], raw)
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

var recordPrefix = view.MustRegisterPrefix(0x1F, "bridge/in-out")

// View stores bridge records keyed by host transaction.
type View struct {
	view *view.View
}

func NewView(v *view.View) *View {
	return &View{view: v}
}

// CreateRecord writes the record exactly once per host transaction.
func (v *View) CreateRecord(rec *Record) error {
	if ok, err := v.view.Exists(recordPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("bridge: record %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	return v.view.Write(recordPrefix, rec.CreationTx, rec)
}

// GetRecord resolves a record by its host transaction.
func (v *View) GetRecord(tx types.TxID) (*Record, bool, error) {
	rec := new(Record)
	ok, err := v.view.Read(recordPrefix, tx, rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}
