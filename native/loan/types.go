// Package loan manages the collateral-token, loan-token, loan-scheme and
// vault records of the loan subsystem.
package loan

import (
	"github.com/Mixa84/ain/core/serialize"
	"github.com/Mixa84/ain/core/types"
)

// CollateralToken parameterises an existing fungible token for use as loan
// collateral from a given activation height onwards.
type CollateralToken struct {
	TokenID            types.TokenID
	Factor             types.Amount
	PriceFeedTx        types.TxID
	ActivateAfterBlock uint32
}

// CollateralTokenRecord is the stored form, carrying the creation metadata
// that makes the record addressable.
type CollateralTokenRecord struct {
	CollateralToken
	CreationTx     types.TxID
	CreationHeight uint32
}

func (r *CollateralTokenRecord) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteVarUint(uint64(r.TokenID))
	w.WriteInt64(int64(r.Factor))
	w.WriteRaw(r.PriceFeedTx[:])
	w.WriteUint32(r.ActivateAfterBlock)
	w.WriteRaw(r.CreationTx[:])
	w.WriteUint32(r.CreationHeight)
	return w.Bytes(), nil
}

func (r *CollateralTokenRecord) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	id, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	r.TokenID = types.TokenID(id)
	factor, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.Factor = types.Amount(factor)
	if err := readTxID(rd, &r.PriceFeedTx); err != nil {
		return err
	}
	if r.ActivateAfterBlock, err = rd.ReadUint32(); err != nil {
		return err
	}
	if err := readTxID(rd, &r.CreationTx); err != nil {
		return err
	}
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

// CollateralKey indexes collateral records by token id and inverted
// activation height, so a forward scan from (id, invert(H)) lands on the most
// recently activated record with activation height <= H.
type CollateralKey struct {
	TokenID   types.TokenID
	InvHeight uint32
}

// NewCollateralKey builds the key for a plain (not yet inverted) height.
func NewCollateralKey(id types.TokenID, height uint32) CollateralKey {
	return CollateralKey{TokenID: id, InvHeight: serialize.InvertHeight(height)}
}

// ActivationHeight recovers the plain height from the inverted form.
func (k CollateralKey) ActivationHeight() uint32 {
	return serialize.InvertHeight(k.InvHeight)
}

func (k CollateralKey) MarshalDBKey() ([]byte, error) {
	w := serialize.NewWriter()
	idKey, err := k.TokenID.MarshalDBKey()
	if err != nil {
		return nil, err
	}
	w.WriteRaw(idKey)
	w.WriteUint32BE(k.InvHeight)
	return w.Bytes(), nil
}

func (k *CollateralKey) UnmarshalDBKey(b []byte) error {
	rd := serialize.NewReader(b)
	id, err := rd.ReadUint32BE()
	if err != nil {
		return err
	}
	k.TokenID = types.TokenID(id)
	if k.InvHeight, err = rd.ReadUint32BE(); err != nil {
		return err
	}
	return rd.Done()
}

// LoanToken declares a mintable token that vaults can borrow.
type LoanToken struct {
	Symbol      string
	Name        string
	PriceFeedTx types.TxID
	Mintable    bool
	Interest    types.Amount
}

// LoanTokenRecord is the stored form. It carries its token id so that the id
// resolves from the record as well as the record from the id.
type LoanTokenRecord struct {
	LoanToken
	TokenID        types.TokenID
	CreationTx     types.TxID
	CreationHeight uint32
}

func (r *LoanTokenRecord) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteString(r.Symbol)
	w.WriteString(r.Name)
	w.WriteRaw(r.PriceFeedTx[:])
	w.WriteBool(r.Mintable)
	w.WriteInt64(int64(r.Interest))
	w.WriteVarUint(uint64(r.TokenID))
	w.WriteRaw(r.CreationTx[:])
	w.WriteUint32(r.CreationHeight)
	return w.Bytes(), nil
}

func (r *LoanTokenRecord) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	var err error
	if r.Symbol, err = rd.ReadString(); err != nil {
		return err
	}
	if r.Name, err = rd.ReadString(); err != nil {
		return err
	}
	if err := readTxID(rd, &r.PriceFeedTx); err != nil {
		return err
	}
	if r.Mintable, err = rd.ReadBool(); err != nil {
		return err
	}
	interest, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.Interest = types.Amount(interest)
	id, err := rd.ReadVarUint()
	if err != nil {
		return err
	}
	r.TokenID = types.TokenID(id)
	if err := readTxID(rd, &r.CreationTx); err != nil {
		return err
	}
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

// SchemeData are the stored parameters of a loan scheme.
type SchemeData struct {
	Ratio uint32
	Rate  types.Amount
}

func (d *SchemeData) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteUint32(d.Ratio)
	w.WriteInt64(int64(d.Rate))
	return w.Bytes(), nil
}

func (d *SchemeData) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	var err error
	if d.Ratio, err = rd.ReadUint32(); err != nil {
		return err
	}
	rate, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	d.Rate = types.Amount(rate)
	return rd.Done()
}

// Scheme pairs the parameters with the scheme's unique identifier.
type Scheme struct {
	SchemeData
	ID string
}

// Vault borrows loan tokens against collateral under a scheme.
type Vault struct {
	Owner            types.Script
	SchemeID         string
	UnderLiquidation bool
}

// VaultRecord is the stored form.
type VaultRecord struct {
	Vault
	CreationTx     types.TxID
	CreationHeight uint32
}

func (r *VaultRecord) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteBytes(r.Owner)
	w.WriteString(r.SchemeID)
	w.WriteBool(r.UnderLiquidation)
	w.WriteRaw(r.CreationTx[:])
	w.WriteUint32(r.CreationHeight)
	return w.Bytes(), nil
}

func (r *VaultRecord) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	owner, err := rd.ReadBytes()
	if err != nil {
		return err
	}
	r.Owner = types.Script(owner)
	if r.SchemeID, err = rd.ReadString(); err != nil {
		return err
	}
	if r.UnderLiquidation, err = rd.ReadBool(); err != nil {
		return err
	}
	if err := readTxID(rd, &r.CreationTx); err != nil {
		return err
	}
	if r.CreationHeight, err = rd.ReadUint32(); err != nil {
		return err
	}
	return rd.Done()
}

// schemeRef stores a scheme identifier as a record value (the default-scheme
// slot).
type schemeRef string

func (s schemeRef) MarshalDBValue() ([]byte, error) {
	w := serialize.NewWriter()
	w.WriteString(string(s))
	return w.Bytes(), nil
}

func (s *schemeRef) UnmarshalDBValue(b []byte) error {
	rd := serialize.NewReader(b)
	v, err := rd.ReadString()
	if err != nil {
		return err
	}
	if err := rd.Done(); err != nil {
		return err
	}
	*s = schemeRef(v)
	return nil
}

func readTxID(rd *serialize.Reader, out *types.TxID) error {
	raw, err := rd.ReadRaw(len(out))
	if err != nil {
		return err
	}
	copy(out[:], raw)
	return nil
}
