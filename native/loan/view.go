package loan

import (
	"fmt"

	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/common"
	"github.com/Mixa84/ain/native/token"
)

// Loan scheme bounds enforced by ValidateScheme.
const (
	MinSchemeRatio    uint32       = 100
	MinSchemeRate     types.Amount = 1_000_000 // 0.01 in fixed point
	MaxSchemeIDLength              = 8
)

var (
	collateralByTxPrefix     = view.MustRegisterPrefix(0x10, "loan/collateral-by-tx")
	collateralByHeightPrefix = view.MustRegisterPrefix(0x11, "loan/collateral-by-token-height")
	schemePrefix             = view.MustRegisterPrefix(0x12, "loan/scheme")
	loanTokenByTxPrefix      = view.MustRegisterPrefix(0x13, "loan/token-by-tx")
	loanTokenByIDPrefix      = view.MustRegisterPrefix(0x14, "loan/token-by-id")
	defaultSchemePrefix      = view.MustRegisterPrefix(0x15, "loan/default-scheme")
	vaultPrefix              = view.MustRegisterPrefix(0x16, "loan/vault")
)

// View is the loan registry: collateral tokens, loan tokens, schemes and
// vaults over the typed KV view. Token references resolve against the
// external token registry.
type View struct {
	view   *view.View
	tokens token.Registry
}

func NewView(v *view.View, tokens token.Registry) *View {
	return &View{view: v, tokens: tokens}
}

// --- collateral tokens ---

// CreateCollateralToken registers collateral parameters for a token. The
// creation tx must be unused, the factor within [0, 1] and the token id
// known to the token registry. On success the record is written together
// with its (token id, inverted activation height) index entry.
func (v *View) CreateCollateralToken(rec *CollateralTokenRecord) error {
	if ok, err := v.view.Exists(collateralByTxPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("loan: collateral token %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	if rec.Factor < 0 {
		return common.Fieldf("factor", "must not be negative")
	}
	if rec.Factor > types.Coin {
		return common.Fieldf("factor", "must be lower or equal than 1")
	}
	if _, ok, err := v.tokens.Lookup(rec.TokenID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("loan: token %s: %w", rec.TokenID, common.ErrTokenNotFound)
	}
	if err := v.view.Write(collateralByTxPrefix, rec.CreationTx, rec); err != nil {
		return err
	}
	key := NewCollateralKey(rec.TokenID, rec.ActivateAfterBlock)
	return v.view.Write(collateralByHeightPrefix, key, &rec.CreationTx)
}

// GetCollateralToken resolves a collateral record by its creation tx.
func (v *View) GetCollateralToken(tx types.TxID) (*CollateralTokenRecord, bool, error) {
	rec := new(CollateralTokenRecord)
	ok, err := v.view.Read(collateralByTxPrefix, tx, rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// CollateralTokenAt returns the most recently activated collateral record of
// the token whose activation height does not exceed the given height.
func (v *View) CollateralTokenAt(id types.TokenID, height uint32) (*CollateralTokenRecord, bool, error) {
	cursor, err := v.view.LowerBound(collateralByHeightPrefix, NewCollateralKey(id, height))
	if err != nil {
		return nil, false, err
	}
	defer cursor.Release()
	if !cursor.Valid() {
		return nil, false, nil
	}
	var key CollateralKey
	if err := cursor.DecodeKey(&key); err != nil {
		return nil, false, err
	}
	// The lower bound may land on the next token's first entry when this
	// token has no activation at or below the height.
	if key.TokenID != id {
		return nil, false, nil
	}
	var creationTx types.TxID
	if err := cursor.DecodeValue(&creationTx); err != nil {
		return nil, false, err
	}
	return v.GetCollateralToken(creationTx)
}

// ForEachCollateralToken walks the (token id, inverted height) index starting
// at the given key; a zero start begins with the lowest token id.
func (v *View) ForEachCollateralToken(start CollateralKey, fn func(key CollateralKey, creationTx types.TxID) bool) error {
	var walkErr error
	err := v.view.ForEach(collateralByHeightPrefix, start, func(rawKey, rawValue []byte) bool {
		var key CollateralKey
		if walkErr = key.UnmarshalDBKey(rawKey); walkErr != nil {
			return false
		}
		var creationTx types.TxID
		if walkErr = creationTx.UnmarshalDBValue(rawValue); walkErr != nil {
			return false
		}
		return fn(key, creationTx)
	})
	if err != nil {
		return err
	}
	return walkErr
}

// --- loan tokens ---

// CreateLoanToken registers a loan token under both its creation tx and its
// token id.
func (v *View) CreateLoanToken(rec *LoanTokenRecord) error {
	if ok, err := v.view.Exists(loanTokenByTxPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("loan: loan token %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	if rec.Interest < 0 {
		return common.Fieldf("interest", "must not be negative")
	}
	if _, ok, err := v.tokens.Lookup(rec.TokenID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("loan: token %s: %w", rec.TokenID, common.ErrTokenNotFound)
	}
	if err := v.view.Write(loanTokenByTxPrefix, rec.CreationTx, rec); err != nil {
		return err
	}
	return v.view.Write(loanTokenByIDPrefix, rec.TokenID, &rec.CreationTx)
}

// UpdateLoanToken rewrites an existing loan token record in place. The prior
// record must exist; the token id is immutable. Interest may be lowered past
// the creation bound, but the descriptive fields must stay populated.
func (v *View) UpdateLoanToken(rec *LoanTokenRecord) error {
	if rec.Symbol == "" {
		return common.Fieldf("symbol", "must not be empty")
	}
	if rec.Name == "" {
		return common.Fieldf("name", "must not be empty")
	}
	prior := new(LoanTokenRecord)
	ok, err := v.view.Read(loanTokenByTxPrefix, rec.CreationTx, prior)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("loan: loan token %s: %w", rec.CreationTx, common.ErrNotFound)
	}
	if prior.TokenID != rec.TokenID {
		return common.Fieldf("token", "id cannot change on update")
	}
	return v.view.Replace(loanTokenByTxPrefix, rec.CreationTx, rec)
}

// GetLoanToken resolves a loan token by its creation tx.
func (v *View) GetLoanToken(tx types.TxID) (*LoanTokenRecord, bool, error) {
	rec := new(LoanTokenRecord)
	ok, err := v.view.Read(loanTokenByTxPrefix, tx, rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// ForEachLoanToken enumerates loan tokens in creation tx order.
func (v *View) ForEachLoanToken(fn func(rec LoanTokenRecord) bool) error {
	var walkErr error
	err := v.view.ForEach(loanTokenByTxPrefix, nil, func(rawKey, rawValue []byte) bool {
		var rec LoanTokenRecord
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

// GetLoanTokenByID resolves a loan token by its token id.
func (v *View) GetLoanTokenByID(id types.TokenID) (*LoanTokenRecord, bool, error) {
	var creationTx types.TxID
	ok, err := v.view.Read(loanTokenByIDPrefix, id, &creationTx)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, ok, err := v.GetLoanToken(creationTx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("loan: token id %s points at missing record %s", id, creationTx)
	}
	return rec, true, nil
}

// --- loan schemes ---

// ValidateScheme checks the scheme parameters against their domain bounds.
func ValidateScheme(s Scheme) error {
	if s.Ratio < MinSchemeRatio {
		return common.Fieldf("ratio", "cannot be less than %d", MinSchemeRatio)
	}
	if s.Rate < MinSchemeRate {
		return common.Fieldf("rate", "cannot be less than 0.01")
	}
	if s.ID == "" || len(s.ID) > MaxSchemeIDLength {
		return common.Fieldf("identifier", "cannot be empty or more than %d chars long", MaxSchemeIDLength)
	}
	return nil
}

// CheckSchemeConflict enforces scheme uniqueness: no second scheme may reuse
// the identifier or the exact (ratio, rate) pair, including schemes that are
// not yet active.
func (v *View) CheckSchemeConflict(s Scheme) error {
	var conflict error
	err := v.ForEachScheme(func(id string, data SchemeData) bool {
		if id == s.ID {
			conflict = fmt.Errorf("loan: scheme with identifier %q: %w", id, common.ErrAlreadyExists)
			return false
		}
		if data.Ratio == s.Ratio && data.Rate == s.Rate {
			conflict = fmt.Errorf("loan: scheme with same rate and ratio: %w", common.ErrAlreadyExists)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return conflict
}

// StoreScheme upserts a scheme keyed by its identifier. It is used for both
// create and update; the caller enforces ValidateScheme and
// CheckSchemeConflict beforehand.
func (v *View) StoreScheme(s Scheme) error {
	return v.view.Write(schemePrefix, view.RawKey(s.ID), &s.SchemeData)
}

// GetScheme resolves a scheme's parameters by identifier.
func (v *View) GetScheme(id string) (*SchemeData, bool, error) {
	data := new(SchemeData)
	ok, err := v.view.Read(schemePrefix, view.RawKey(id), data)
	if err != nil || !ok {
		return nil, false, err
	}
	return data, true, nil
}

// ForEachScheme enumerates all schemes; callers impose their own ordering.
func (v *View) ForEachScheme(fn func(id string, data SchemeData) bool) error {
	var walkErr error
	err := v.view.ForEach(schemePrefix, nil, func(rawKey, rawValue []byte) bool {
		var data SchemeData
		if walkErr = data.UnmarshalDBValue(rawValue); walkErr != nil {
			return false
		}
		return fn(string(rawKey), data)
	})
	if err != nil {
		return err
	}
	return walkErr
}

// SetDefaultScheme points the single default-scheme slot at an identifier.
// The registry does not verify the identifier exists; the transition layer
// validates before calling.
func (v *View) SetDefaultScheme(id string) error {
	ref := schemeRef(id)
	return v.view.Write(defaultSchemePrefix, view.RawKey(nil), &ref)
}

// DefaultScheme returns the default scheme identifier, if one was ever set.
func (v *View) DefaultScheme() (string, bool, error) {
	var ref schemeRef
	ok, err := v.view.Read(defaultSchemePrefix, view.RawKey(nil), &ref)
	if err != nil || !ok {
		return "", false, err
	}
	return string(ref), true, nil
}

// --- vaults ---

// CreateVault stores a vault. An empty scheme id takes the current default
// scheme; the resulting scheme must exist.
func (v *View) CreateVault(rec *VaultRecord) error {
	if ok, err := v.view.Exists(vaultPrefix, rec.CreationTx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("loan: vault %s: %w", rec.CreationTx, common.ErrAlreadyExists)
	}
	if rec.SchemeID == "" {
		def, ok, err := v.DefaultScheme()
		if err != nil {
			return err
		}
		if !ok {
			return common.Fieldf("scheme", "no scheme given and no default scheme set")
		}
		rec.SchemeID = def
	}
	if _, ok, err := v.GetScheme(rec.SchemeID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("loan: scheme %q: %w", rec.SchemeID, common.ErrNotFound)
	}
	return v.view.Write(vaultPrefix, rec.CreationTx, rec)
}

// GetVault resolves a vault by its creation tx.
func (v *View) GetVault(tx types.TxID) (*VaultRecord, bool, error) {
	rec := new(VaultRecord)
	ok, err := v.view.Read(vaultPrefix, tx, rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// ForEachVault enumerates vaults in creation tx order.
func (v *View) ForEachVault(fn func(tx types.TxID, rec VaultRecord) bool) error {
	var walkErr error
	err := v.view.ForEach(vaultPrefix, nil, func(rawKey, rawValue []byte) bool {
		var tx types.TxID
		if walkErr = tx.UnmarshalDBKey(rawKey); walkErr != nil {
			return false
		}
		var rec VaultRecord
		if walkErr = rec.UnmarshalDBValue(rawValue); walkErr != nil {
			return false
		}
		return fn(tx, rec)
	})
	if err != nil {
		return err
	}
	return walkErr
}
