package order

import (
	"fmt"

	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/common"
	"github.com/Mixa84/ain/native/token"
)

var (
	orderByPairPrefix    = view.MustRegisterPrefix(0x20, "order/by-pair")
	orderByTxPrefix      = view.MustRegisterPrefix(0x21, "order/by-tx")
	orderCloseTxPrefix   = view.MustRegisterPrefix(0x22, "order/close-tx")
	fulfillByTxPrefix    = view.MustRegisterPrefix(0x23, "order/fulfill-by-tx")
	fulfillCloseTxPrefix = view.MustRegisterPrefix(0x24, "order/fulfill-close-tx")
	fulfillByOrderPrefix = view.MustRegisterPrefix(0x25, "order/fulfill-by-order")
)

// View is the order book over the typed KV view. It stores and enumerates
// orders and fulfillments; amount bookkeeping (how much of an order remains)
// is recomputed by the transition layer from the fulfillments it enumerates
// here, never cached in the order record.
type View struct {
	view   *view.View
	tokens token.Registry
}

func NewView(v *view.View, tokens token.Registry) *View {
	return &View{view: v, tokens: tokens}
}

// CreateOrder stores a new order under its compound (tokenFrom, tokenTo,
// creationTx) key plus the reverse index that resolves the pair from the
// creation tx alone. Both sides of the pair must be registered tokens.
func (v *View) CreateOrder(rec *OrderRecord) error {
	if ok, err := v.view.Exists(orderByTxPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("order: %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	if _, ok, err := v.tokens.Lookup(rec.TokenFrom); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("order: token from %s: %w", rec.TokenFrom, common.ErrTokenNotFound)
	}
	if _, ok, err := v.tokens.Lookup(rec.TokenTo); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("order: token to %s: %w", rec.TokenTo, common.ErrTokenNotFound)
	}
	key := PairKey{Pair: Pair{TokenFrom: rec.TokenFrom, TokenTo: rec.TokenTo}, CreationTx: rec.CreationTx}
	if err := v.view.Write(orderByPairPrefix, key, rec); err != nil {
		return err
	}
	pair := key.Pair
	return v.view.Write(orderByTxPrefix, rec.CreationTx, &pair)
}

// GetOrder resolves an order by its creation tx via the reverse index.
func (v *View) GetOrder(tx types.TxID) (*OrderRecord, bool, error) {
	var pair Pair
	ok, err := v.view.Read(orderByTxPrefix, tx, &pair)
	if err != nil || !ok {
		return nil, false, err
	}
	rec := new(OrderRecord)
	key := PairKey{Pair: pair, CreationTx: tx}
	ok, err = v.view.Read(orderByPairPrefix, key, rec)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("order: reverse index for %s points at missing record", tx)
	}
	return rec, true, nil
}

// GetOrderByCloseTx resolves a closed order from the transaction that closed
// it.
func (v *View) GetOrderByCloseTx(closeTx types.TxID) (*OrderRecord, bool, error) {
	var creationTx types.TxID
	ok, err := v.view.Read(orderCloseTxPrefix, closeTx, &creationTx)
	if err != nil || !ok {
		return nil, false, err
	}
	return v.GetOrder(creationTx)
}

// CloseOrder marks an open order closed. The order must exist and must not
// already be closed; a close tx replaying against a closed order is the same
// class of duplicate as a repeated creation. The compound key does not
// change, so the record is replaced in place, and a closeTx -> creationTx
// index entry makes the closure discoverable from the closing transaction.
func (v *View) CloseOrder(creationTx, closeTx types.TxID, closeHeight uint32) (*OrderRecord, error) {
	rec, ok, err := v.GetOrder(creationTx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order: %s: %w", creationTx, common.ErrNotFound)
	}
	if rec.IsClosed() {
		return nil, fmt.Errorf("order: %s already closed by %s: %w", creationTx, rec.CloseTx, common.ErrAlreadyExists)
	}
	rec.CloseTx = closeTx
	rec.CloseHeight = closeHeight
	key := PairKey{Pair: Pair{TokenFrom: rec.TokenFrom, TokenTo: rec.TokenTo}, CreationTx: creationTx}
	if err := v.view.Replace(orderByPairPrefix, key, rec); err != nil {
		return nil, err
	}
	if err := v.view.Write(orderCloseTxPrefix, closeTx, &creationTx); err != nil {
		return nil, err
	}
	return rec, nil
}

// ForEachOrder enumerates a market's orders, open and closed, in creation tx
// order. A zero start begins at the pair's first order.
func (v *View) ForEachOrder(pair Pair, start types.TxID, fn func(rec OrderRecord) bool) error {
	startKey := PairKey{Pair: pair, CreationTx: start}
	var walkErr error
	err := v.view.ForEach(orderByPairPrefix, startKey, func(rawKey, rawValue []byte) bool {
		var key PairKey
		if walkErr = key.UnmarshalDBKey(rawKey); walkErr != nil {
			return false
		}
		if key.Pair != pair {
			return false
		}
		var rec OrderRecord
		if walkErr = rec.UnmarshalDBValue(rawValue); walkErr != nil {
			return false
		}
		return fn(rec)
	})
	if err != nil {
		return err
	}
	return walkErr
}

// FulfillOrder stores a fulfillment. A colliding fulfillment id means a
// duplicate transaction, which is fatal for the input, never retried.
// Whether the referenced order is open and has enough remaining amount is
// the transition layer's precondition, checked before calling.
func (v *View) FulfillOrder(rec *FulfillmentRecord) error {
	if ok, err := v.view.Exists(fulfillByTxPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("order: fulfillment %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	if err := v.view.Write(fulfillByTxPrefix, rec.CreationTx, rec); err != nil {
		return err
	}
	idx := fulfillIndexKey{OrderTx: rec.OrderTx, FulfillTx: rec.CreationTx}
	return v.view.Write(fulfillByOrderPrefix, idx, &rec.CreationTx)
}

// GetFulfillment resolves a fulfillment by its creation tx.
func (v *View) GetFulfillment(tx types.TxID) (*FulfillmentRecord, bool, error) {
	rec := new(FulfillmentRecord)
	ok, err := v.view.Read(fulfillByTxPrefix, tx, rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// CloseFulfillment mirrors CloseOrder for fulfillment records, used for
// refund and expiry bookkeeping.
func (v *View) CloseFulfillment(creationTx, closeTx types.TxID, closeHeight uint32) (*FulfillmentRecord, error) {
	rec, ok, err := v.GetFulfillment(creationTx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order: fulfillment %s: %w", creationTx, common.ErrNotFound)
	}
	if rec.IsClosed() {
		return nil, fmt.Errorf("order: fulfillment %s already closed by %s: %w", creationTx, rec.CloseTx, common.ErrAlreadyExists)
	}
	rec.CloseTx = closeTx
	rec.CloseHeight = closeHeight
	if err := v.view.Replace(fulfillByTxPrefix, creationTx, rec); err != nil {
		return nil, err
	}
	if err := v.view.Write(fulfillCloseTxPrefix, closeTx, &creationTx); err != nil {
		return nil, err
	}
	return rec, nil
}

// ForEachOrderFulfillment enumerates the fulfillments recorded against one
// order, in fulfillment tx order. The transition layer sums these to compute
// the order's remaining amount.
func (v *View) ForEachOrderFulfillment(orderTx types.TxID, fn func(fulfillTx types.TxID) bool) error {
	start := fulfillIndexKey{OrderTx: orderTx}
	var walkErr error
	err := v.view.ForEach(fulfillByOrderPrefix, start, func(rawKey, rawValue []byte) bool {
		var key fulfillIndexKey
		if walkErr = key.UnmarshalDBKey(rawKey); walkErr != nil {
			return false
		}
		if key.OrderTx != orderTx {
			return false
		}
		return fn(key.FulfillTx)
	})
	if err != nil {
		return err
	}
	return walkErr
}
