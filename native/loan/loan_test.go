package loan_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/common"
	"github.com/Mixa84/ain/native/loan"
	"github.com/Mixa84/ain/native/token"
	"github.com/Mixa84/ain/storage"
)

func newTestView(t *testing.T) *loan.View {
	t.Helper()
	v := view.New(storage.NewMemDB())
	tokens := token.NewStore(v)
	for id, symbol := range map[types.TokenID]string{1: "DFI", 2: "BTC", 3: "TSLA"} {
		if err := tokens.Register(id, token.Meta{Symbol: symbol}); err != nil {
			t.Fatalf("register token %s: %v", id, err)
		}
	}
	return loan.NewView(v, tokens)
}

func txid(s string) types.TxID {
	return types.HashTxData([]byte(s))
}

func collateralRecord(tx string, id types.TokenID, activation uint32) *loan.CollateralTokenRecord {
	return &loan.CollateralTokenRecord{
		CollateralToken: loan.CollateralToken{
			TokenID:            id,
			Factor:             types.Coin / 2,
			PriceFeedTx:        txid("feed"),
			ActivateAfterBlock: activation,
		},
		CreationTx:     txid(tx),
		CreationHeight: activation,
	}
}

func TestCreateCollateralToken(t *testing.T) {
	v := newTestView(t)
	rec := collateralRecord("coll-1", 1, 100)
	if err := v.CreateCollateralToken(rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok, err := v.GetCollateralToken(rec.CreationTx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || *got != *rec {
		t.Fatalf("get returned ok=%v rec=%+v", ok, got)
	}

	if err := v.CreateCollateralToken(rec); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("duplicate creation tx: got %v", err)
	}
	if err := v.CreateCollateralToken(collateralRecord("coll-2", 99, 100)); !errors.Is(err, common.ErrTokenNotFound) {
		t.Fatalf("unknown token: got %v", err)
	}
}

func TestCreateCollateralTokenFactorBounds(t *testing.T) {
	v := newTestView(t)
	rec := collateralRecord("coll-1", 1, 100)
	rec.Factor = -1
	if err := v.CreateCollateralToken(rec); !common.IsInvalidField(err) {
		t.Fatalf("negative factor: got %v", err)
	}
	rec.Factor = types.Coin + 1
	if err := v.CreateCollateralToken(rec); !common.IsInvalidField(err) {
		t.Fatalf("factor above one: got %v", err)
	}
	rec.Factor = types.Coin
	if err := v.CreateCollateralToken(rec); err != nil {
		t.Fatalf("factor of exactly one: %v", err)
	}
}

func TestCollateralTokenAt(t *testing.T) {
	v := newTestView(t)
	early := collateralRecord("coll-early", 1, 100)
	late := collateralRecord("coll-late", 1, 200)
	if err := v.CreateCollateralToken(early); err != nil {
		t.Fatalf("create early: %v", err)
	}
	if err := v.CreateCollateralToken(late); err != nil {
		t.Fatalf("create late: %v", err)
	}

	cases := []struct {
		height uint32
		want   *loan.CollateralTokenRecord
	}{
		{99, nil},
		{100, early},
		{150, early},
		{200, late},
		{250, late},
	}
	for _, tc := range cases {
		got, ok, err := v.CollateralTokenAt(1, tc.height)
		if err != nil {
			t.Fatalf("at height %d: %v", tc.height, err)
		}
		if tc.want == nil {
			if ok {
				t.Fatalf("at height %d: found %+v, want none", tc.height, got)
			}
			continue
		}
		if !ok || got.CreationTx != tc.want.CreationTx {
			t.Fatalf("at height %d: ok=%v got=%+v, want tx %s", tc.height, ok, got, tc.want.CreationTx)
		}
	}
}

func TestCollateralTokenAtDoesNotCrossTokens(t *testing.T) {
	v := newTestView(t)
	// Token 1 activates late, token 2 early. A query for token 1 below its
	// activation must not surface token 2's entry.
	if err := v.CreateCollateralToken(collateralRecord("coll-1", 1, 500)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := v.CreateCollateralToken(collateralRecord("coll-2", 2, 10)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, err := v.CollateralTokenAt(1, 100); err != nil || ok {
		t.Fatalf("query below activation: ok=%v err=%v", ok, err)
	}
	if got, ok, err := v.CollateralTokenAt(2, 100); err != nil || !ok || got.TokenID != 2 {
		t.Fatalf("query of second token: ok=%v err=%v rec=%+v", ok, err, got)
	}
}

func TestForEachCollateralToken(t *testing.T) {
	v := newTestView(t)
	if err := v.CreateCollateralToken(collateralRecord("a", 1, 100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := v.CreateCollateralToken(collateralRecord("b", 1, 200)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := v.CreateCollateralToken(collateralRecord("c", 2, 50)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []string
	err := v.ForEachCollateralToken(loan.CollateralKey{}, func(key loan.CollateralKey, creationTx types.TxID) bool {
		seen = append(seen, fmt.Sprintf("%s@%d", key.TokenID, key.ActivationHeight()))
		return true
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	// Per token the index runs newest activation first.
	want := []string{"1@200", "1@100", "2@50"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func loanTokenRecord(tx string, id types.TokenID) *loan.LoanTokenRecord {
	return &loan.LoanTokenRecord{
		LoanToken: loan.LoanToken{
			Symbol:      "TSLA",
			Name:        "Tesla",
			PriceFeedTx: txid("feed"),
			Mintable:    true,
			Interest:    5 * types.Coin / 100,
		},
		TokenID:        id,
		CreationTx:     txid(tx),
		CreationHeight: 10,
	}
}

func TestLoanTokenLifecycle(t *testing.T) {
	v := newTestView(t)
	rec := loanTokenRecord("loan-1", 3)
	if err := v.CreateLoanToken(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := v.CreateLoanToken(rec); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("duplicate creation tx: got %v", err)
	}

	got, ok, err := v.GetLoanToken(rec.CreationTx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if *got != *rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
	byID, ok, err := v.GetLoanTokenByID(3)
	if err != nil || !ok {
		t.Fatalf("get by id: ok=%v err=%v", ok, err)
	}
	if byID.CreationTx != rec.CreationTx {
		t.Fatalf("id resolved to %s", byID.CreationTx)
	}

	update := *rec
	update.Interest = 0
	update.Mintable = false
	if err := v.UpdateLoanToken(&update); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _, err = v.GetLoanToken(rec.CreationTx)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Interest != 0 || got.Mintable {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestForEachLoanToken(t *testing.T) {
	v := newTestView(t)
	want := map[types.TxID]bool{}
	for i, id := range []types.TokenID{2, 3} {
		rec := loanTokenRecord(fmt.Sprintf("loan-%d", i), id)
		want[rec.CreationTx] = true
		if err := v.CreateLoanToken(rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	count := 0
	err := v.ForEachLoanToken(func(rec loan.LoanTokenRecord) bool {
		if !want[rec.CreationTx] {
			t.Fatalf("unexpected record %s", rec.CreationTx)
		}
		count++
		return true
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if count != 2 {
		t.Fatalf("saw %d records, want 2", count)
	}
}

func TestUpdateLoanTokenValidation(t *testing.T) {
	v := newTestView(t)
	rec := loanTokenRecord("loan-1", 3)
	if err := v.CreateLoanToken(rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	missing := loanTokenRecord("loan-other", 3)
	if err := v.UpdateLoanToken(missing); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("update of absent record: got %v", err)
	}

	bad := *rec
	bad.Symbol = ""
	if err := v.UpdateLoanToken(&bad); !common.IsInvalidField(err) {
		t.Fatalf("empty symbol: got %v", err)
	}
	bad = *rec
	bad.Name = ""
	if err := v.UpdateLoanToken(&bad); !common.IsInvalidField(err) {
		t.Fatalf("empty name: got %v", err)
	}
	bad = *rec
	bad.TokenID = 2
	if err := v.UpdateLoanToken(&bad); !common.IsInvalidField(err) {
		t.Fatalf("token id change: got %v", err)
	}
}

func TestValidateScheme(t *testing.T) {
	valid := loan.Scheme{SchemeData: loan.SchemeData{Ratio: 150, Rate: 2 * loan.MinSchemeRate}, ID: "LOAN0001"}
	if err := loan.ValidateScheme(valid); err != nil {
		t.Fatalf("valid scheme rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*loan.Scheme)
	}{
		{"ratio below minimum", func(s *loan.Scheme) { s.Ratio = 99 }},
		{"rate below minimum", func(s *loan.Scheme) { s.Rate = loan.MinSchemeRate - 1 }},
		{"empty identifier", func(s *loan.Scheme) { s.ID = "" }},
		{"identifier too long", func(s *loan.Scheme) { s.ID = "LOAN00001" }},
	}
	for _, tc := range cases {
		s := valid
		tc.mutate(&s)
		if err := loan.ValidateScheme(s); !common.IsInvalidField(err) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
}

func TestSchemeLifecycle(t *testing.T) {
	v := newTestView(t)
	scheme := loan.Scheme{SchemeData: loan.SchemeData{Ratio: 150, Rate: 2 * loan.MinSchemeRate}, ID: "LOAN0001"}
	if err := loan.ValidateScheme(scheme); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := v.CheckSchemeConflict(scheme); err != nil {
		t.Fatalf("conflict on empty registry: %v", err)
	}
	if err := v.StoreScheme(scheme); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := v.GetScheme("LOAN0001")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if *got != scheme.SchemeData {
		t.Fatalf("got %+v", got)
	}

	sameID := loan.Scheme{SchemeData: loan.SchemeData{Ratio: 200, Rate: 3 * loan.MinSchemeRate}, ID: "LOAN0001"}
	if err := v.CheckSchemeConflict(sameID); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("identifier conflict: got %v", err)
	}
	sameParams := loan.Scheme{SchemeData: scheme.SchemeData, ID: "LOAN0002"}
	if err := v.CheckSchemeConflict(sameParams); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("parameter conflict: got %v", err)
	}
	distinct := loan.Scheme{SchemeData: loan.SchemeData{Ratio: 150, Rate: 3 * loan.MinSchemeRate}, ID: "LOAN0002"}
	if err := v.CheckSchemeConflict(distinct); err != nil {
		t.Fatalf("distinct scheme flagged: %v", err)
	}

	// Update through the same upsert path.
	updated := loan.Scheme{SchemeData: loan.SchemeData{Ratio: 175, Rate: scheme.Rate}, ID: "LOAN0001"}
	if err := v.StoreScheme(updated); err != nil {
		t.Fatalf("store update: %v", err)
	}
	got, _, err = v.GetScheme("LOAN0001")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Ratio != 175 {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestDefaultScheme(t *testing.T) {
	v := newTestView(t)
	if _, ok, err := v.DefaultScheme(); err != nil || ok {
		t.Fatalf("default before set: ok=%v err=%v", ok, err)
	}
	if err := v.SetDefaultScheme("LOAN0001"); err != nil {
		t.Fatalf("set: %v", err)
	}
	id, ok, err := v.DefaultScheme()
	if err != nil || !ok || id != "LOAN0001" {
		t.Fatalf("default: id=%q ok=%v err=%v", id, ok, err)
	}
	if err := v.SetDefaultScheme("LOAN0002"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if id, _, _ := v.DefaultScheme(); id != "LOAN0002" {
		t.Fatalf("default after reset: %q", id)
	}
}

func TestCreateVault(t *testing.T) {
	v := newTestView(t)
	if err := v.StoreScheme(loan.Scheme{SchemeData: loan.SchemeData{Ratio: 150, Rate: 2 * loan.MinSchemeRate}, ID: "LOAN0001"}); err != nil {
		t.Fatalf("store scheme: %v", err)
	}

	rec := &loan.VaultRecord{
		Vault:          loan.Vault{Owner: types.Script{0x76, 0xA9}, SchemeID: "LOAN0001"},
		CreationTx:     txid("vault-1"),
		CreationHeight: 20,
	}
	if err := v.CreateVault(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok, err := v.GetVault(rec.CreationTx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.SchemeID != "LOAN0001" || got.UnderLiquidation {
		t.Fatalf("got %+v", got)
	}

	if err := v.CreateVault(rec); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("duplicate vault: got %v", err)
	}
	unknown := &loan.VaultRecord{
		Vault:      loan.Vault{SchemeID: "NOPE"},
		CreationTx: txid("vault-2"),
	}
	if err := v.CreateVault(unknown); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("unknown scheme: got %v", err)
	}
}

func TestCreateVaultTakesDefaultScheme(t *testing.T) {
	v := newTestView(t)
	rec := &loan.VaultRecord{CreationTx: txid("vault-1")}
	if err := v.CreateVault(rec); !common.IsInvalidField(err) {
		t.Fatalf("no scheme and no default: got %v", err)
	}

	if err := v.StoreScheme(loan.Scheme{SchemeData: loan.SchemeData{Ratio: 150, Rate: 2 * loan.MinSchemeRate}, ID: "LOAN0001"}); err != nil {
		t.Fatalf("store scheme: %v", err)
	}
	if err := v.SetDefaultScheme("LOAN0001"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := v.CreateVault(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _, err := v.GetVault(rec.CreationTx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SchemeID != "LOAN0001" {
		t.Fatalf("vault scheme %q, want default", got.SchemeID)
	}
}

func TestLoanTokenRecordRoundTrip(t *testing.T) {
	recs := []loan.LoanTokenRecord{
		*loanTokenRecord("loan-1", 3),
		// Zero-length strings and a zero token id must survive unchanged.
		{
			LoanToken:      loan.LoanToken{Interest: 1},
			TokenID:        0,
			CreationTx:     txid("loan-2"),
			CreationHeight: 1,
		},
	}
	for i, rec := range recs {
		raw, err := rec.MarshalDBValue()
		if err != nil {
			t.Fatalf("case %d: marshal: %v", i, err)
		}
		var back loan.LoanTokenRecord
		if err := back.UnmarshalDBValue(raw); err != nil {
			t.Fatalf("case %d: unmarshal: %v", i, err)
		}
		if back != rec {
			t.Fatalf("case %d: round trip changed record: %+v", i, back)
		}
	}
}

func TestSchemeDataRoundTrip(t *testing.T) {
	data := loan.SchemeData{Ratio: 150, Rate: 5 * loan.MinSchemeRate}
	raw, err := data.MarshalDBValue()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back loan.SchemeData
	if err := back.UnmarshalDBValue(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != data {
		t.Fatalf("round trip changed data: %+v", back)
	}
}

func TestVaultRecordRoundTrip(t *testing.T) {
	rec := loan.VaultRecord{
		Vault: loan.Vault{
			Owner:            types.Script{0x00, 0x14, 0xAB},
			SchemeID:         "LOAN0001",
			UnderLiquidation: true,
		},
		CreationTx:     txid("vault"),
		CreationHeight: 77,
	}
	raw, err := rec.MarshalDBValue()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back loan.VaultRecord
	if err := back.UnmarshalDBValue(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back.Owner) != string(rec.Owner) || back.SchemeID != rec.SchemeID ||
		!back.UnderLiquidation || back.CreationTx != rec.CreationTx || back.CreationHeight != rec.CreationHeight {
		t.Fatalf("round trip changed record: %+v", back)
	}
}
