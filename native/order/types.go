// Package order stores the token-to-token order book: orders, fulfillments
// and their close lifecycles, indexed by creation transaction and by token
// pair.
package order

import (
	"github.com/Mixa84/ain/core/serialize"
	"github.com/Mixa84/ain/core/types"
)

// DefaultOrderExpiry is the number of blocks an order stays valid when the
// creator does not choose an expiry, roughly two days.
const DefaultOrderExpiry uint32 = 2880

// Order is the tradable offer: AmountFrom of TokenFrom at OrderPrice per
// unit, payable in TokenTo.
type Order struct {
	Owner      types.Script
	TokenFrom  types.TokenID
	TokenTo    types.TokenID
	AmountFrom types.Amount
	OrderPrice types.Amount
	Expiry     uint32
}

// OrderRecord is the stored form. CloseTx stays zero while the order is
// open; expiry is stored but never self-enforced here, the transition layer
// closes expired orders explicitly so all peers converge on the same state.
type OrderRecord struct {
	Order
	CreationTx     types.TxID
	CloseTx        types.TxID
	CreationHeight uint32
	CloseHeight    uint32
}

// IsClosed reports whether a close has been recorded.
func (r *OrderRecord) IsClosed() bool {
	return !r.CloseTx.IsZero()
}

func (r *OrderRecord) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteBytes(r.Owner)
	w.WriteVarUint(uint64(r.TokenFrom))
	w.WriteVarUint(uint64(r.TokenTo))
	w.WriteInt64(int64(r.AmountFrom))
	w.WriteInt64(int64(r.OrderPrice))
	w.WriteUint32(r.Expiry)
	w.WriteRaw(r.CreationTx[:])
	w.WriteRaw(r.CloseTx[:])
	w.WriteUint32(r.CreationHeight)
	w.WriteUint32(r.CloseHeight)
	return w.Bytes(), nil
}

func (r *OrderRecord) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	owner, err := rd.ReadBytes()
	if err != nil {
		return err
	}
	r.Owner = types.Script(owner)
	from, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	r.TokenFrom = types.TokenID(from)
	to, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	r.TokenTo = types.TokenID(to)
	amount, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.AmountFrom = types.Amount(amount)
	price, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.OrderPrice = types.Amount(price)
	if r.Expiry, err = rd.ReadUint32(); err != nil {
		return err
	}
	if err := readTxID(rd, &r.CreationTx); err != nil {
		return err
	}
	if err := readTxID(rd, &r.CloseTx); err != nil {
		return err
	}
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	if r.CloseHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

// Fulfillment accepts part of an open order's remaining amount.
type Fulfillment struct {
	Owner   types.Script
	OrderTx types.TxID
	Amount  types.Amount
}

// FulfillmentRecord is the stored form; the close fields work exactly as on
// OrderRecord.
type FulfillmentRecord struct {
	Fulfillment
	CreationTx     types.TxID
	CloseTx        types.TxID
	CreationHeight uint32
	CloseHeight    uint32
}

func (r *FulfillmentRecord) IsClosed() bool {
	return !r.CloseTx.IsZero()
}

func (r *FulfillmentRecord) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteBytes(r.Owner)
	w.WriteRaw(r.OrderTx[:])
	w.WriteInt64(int64(r.Amount))
	w.WriteRaw(r.CreationTx[:])
	w.WriteRaw(r.CloseTx[:])
	w.WriteUint32(r.CreationHeight)
	w.WriteUint32(r.CloseHeight)
	return w.Bytes(), nil
}

func (r *FulfillmentRecord) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	owner, err := rd.ReadBytes()
	if err != nil {
		return err
	}
	r.Owner = types.Script(owner)
	if err := readTxID(rd, &r.OrderTx); err != nil {
		return err
	}
	amount, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.Amount = types.Amount(amount)
	if err := readTxID(rd, &r.CreationTx); err != nil {
		return err
	}
	if err := readTxID(rd, &r.CloseTx); err != nil {
		return err
	}
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	if r.CloseHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

// Pair names a market. It is the reverse-index value that lets a lookup by
// creation tx find the compound primary key.
type Pair struct {
	TokenFrom types.TokenID
	TokenTo   types.TokenID
}

func (p *Pair) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteVarUint(uint64(p.TokenFrom))
	w.WriteVarUint(uint64(p.TokenTo))
	return w.Bytes(), nil
}

func (p *Pair) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	from, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	to, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	if err := rd.Done(); err != nil {
		return err
	}
	p.TokenFrom = types.TokenID(from)
	p.TokenTo = types.TokenID(to)
	return nil
}

// PairKey is the compound primary key (tokenFrom, tokenTo, creationTx), so
// one forward scan enumerates a market's orders in creation tx order.
type PairKey struct {
	Pair
	CreationTx types.TxID
}

func (k PairKey) MarshalDBKey() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteUint32BE(uint32(k.TokenFrom))
	w.WriteUint32BE(uint32(k.TokenTo))
	w.WriteRaw(k.CreationTx[:])
	return w.Bytes(), nil
}

func (k *PairKey) UnmarshalDBKey(b []byte) error {
	rd := serialize.NewReader(b)
	from, err := rd.ReadUint32BE()
	if err != nil {
		return err
	}
	to, err := rd.ReadUint32BE()
	if err != nil {
		return err
	}
	if err := readTxID(rd, &k.CreationTx); err != nil {
		return err
	}
	if err := rd.Done(); err != nil {
		return err
	}
	k.TokenFrom = types.TokenID(from)
	k.TokenTo = types.TokenID(to)
	return nil
}

// fulfillIndexKey groups fulfillments under their order for enumeration.
type fulfillIndexKey struct {
	OrderTx   types.TxID
	FulfillTx types.TxID
}

func (k fulfillIndexKey) MarshalDBKey() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteRaw(k.OrderTx[:])
	w.WriteRaw(k.FulfillTx[:])
	return w.Bytes(), nil
}

func (k *fulfillIndexKey) UnmarshalDBKey(b []byte) error {
	rd := serialize.NewReader(b)
	if err := readTxID(rd, &k.OrderTx); err != nil {
		return err
	}
	if err := readTxID(rd, &k.FulfillTx); err != nil {
		return err
	}
	return rd.Done()
}

func readTxID(rd *serialize.Reader, out *types.TxID) error {
	raw, err := rd.ReadRaw(len(out))
	if err != nil {
		return err
	}
	copy(out[:], raw)
	return nil
}
