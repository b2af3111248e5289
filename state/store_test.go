package state

import (
	"bytes"
	"math/big"
	"testing"

	"miniaave/core/types"
	"miniaave/crypto"
	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/storage"
)

func testStore() *Store {
	return NewStore(storage.NewMemDB())
}

func testAddr(b byte) crypto.Address {
	return crypto.NewAddress(crypto.MavPrefix, bytes.Repeat([]byte{b}, 20))
}

func TestAssetConfigRoundtrip(t *testing.T) {
	store := testStore()
	if cfg, err := store.GetAssetConfig("WETH"); err != nil || cfg != nil {
		t.Fatalf("expected nil for missing asset, got %v %v", cfg, err)
	}
	cfg := &lending.AssetConfig{
		Symbol:                  "WETH",
		Decimals:                18,
		ReceiptToken:            "aWETH",
		LTVBps:                  8_000,
		LiquidationThresholdBps: 8_500,
		LiquidationBonusBps:     10_500,
	}
	if err := store.PutAssetConfig(cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetAssetConfig("WETH")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *cfg {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	// Re-writing the same symbol must not duplicate the index entry.
	if err := store.PutAssetConfig(cfg); err != nil {
		t.Fatalf("second put: %v", err)
	}
	list, err := store.ListAssetConfigs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one asset, got %d", len(list))
	}
}

func TestReserveRoundtrip(t *testing.T) {
	store := testStore()
	reserve := &lending.Reserve{
		Asset:          "DAI",
		TotalSupplied:  big.NewInt(1_000),
		TotalBorrowed:  big.NewInt(400),
		SupplyIndex:    big.NewInt(1),
		BorrowIndex:    big.NewInt(2),
		LastUpdateTime: 99,
	}
	mut := &lending.Mutation{Reserves: []*lending.Reserve{reserve}}
	if err := store.Apply(mut); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := store.GetReserve("DAI")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalSupplied.Cmp(reserve.TotalSupplied) != 0 || got.LastUpdateTime != 99 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestPositionIndexMaintenance(t *testing.T) {
	store := testStore()
	addr := testAddr(0x01)

	mut := &lending.Mutation{}
	for _, asset := range []string{"WETH", "DAI"} {
		mut.Positions = append(mut.Positions, &lending.AccountPosition{
			Address:      addr,
			Asset:        asset,
			ScaledSupply: big.NewInt(10),
			ScaledDebt:   big.NewInt(0),
		})
	}
	if err := store.Apply(mut); err != nil {
		t.Fatalf("apply: %v", err)
	}
	assets, err := store.UserAssets(addr)
	if err != nil {
		t.Fatalf("user assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected two indexed assets, got %v", assets)
	}

	clear := &lending.Mutation{Cleared: []lending.PositionRef{{Address: addr, Asset: "WETH"}}}
	if err := store.Apply(clear); err != nil {
		t.Fatalf("apply clear: %v", err)
	}
	if pos, err := store.GetPosition(addr, "WETH"); err != nil || pos != nil {
		t.Fatalf("expected deleted position, got %v %v", pos, err)
	}
	assets, err = store.UserAssets(addr)
	if err != nil {
		t.Fatalf("user assets after delete: %v", err)
	}
	if len(assets) != 1 || assets[0] != "DAI" {
		t.Fatalf("index not pruned: %v", assets)
	}
}

func TestAccountRoundtrip(t *testing.T) {
	store := testStore()
	addr := testAddr(0x02)
	account := &types.Account{Nonce: 7}
	account.SetBalance("DAI", big.NewInt(123))
	mut := &lending.Mutation{Accounts: []lending.AccountWrite{{Address: addr, Account: account}}}
	if err := store.Apply(mut); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nonce != 7 || got.Balance("DAI").Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestTokenOwnerIndex(t *testing.T) {
	store := testStore()
	a := testAddr(0x01)
	b := testAddr(0x02)

	id, err := store.NextTokenID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	if err := store.PutToken(&positions.Token{ID: id, Owner: a, MintedAt: 5}); err != nil {
		t.Fatalf("put token: %v", err)
	}
	if got, ok, _ := store.TokenByOwner(a); !ok || got != id {
		t.Fatalf("owner index missing: %v %v", got, ok)
	}

	// Re-keying the owner must clear the old index entry.
	if err := store.PutToken(&positions.Token{ID: id, Owner: b, MintedAt: 5}); err != nil {
		t.Fatalf("transfer put: %v", err)
	}
	if _, ok, _ := store.TokenByOwner(a); ok {
		t.Fatalf("stale owner index survived transfer")
	}
	if got, ok, _ := store.TokenByOwner(b); !ok || got != id {
		t.Fatalf("new owner not indexed")
	}

	if err := store.DeleteToken(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if token, err := store.GetToken(id); err != nil || token != nil {
		t.Fatalf("token survived delete: %v %v", token, err)
	}
	if _, ok, _ := store.TokenByOwner(b); ok {
		t.Fatalf("owner index survived delete")
	}
}

func TestShieldStateScopedByAsset(t *testing.T) {
	store := testStore()
	dai := store.ShieldState("DAI")
	weth := store.ShieldState("WETH")

	depositor := testAddr(0x03)
	escrow := crypto.ModuleAddress("shield/DAI")
	depositorAcc := &types.Account{}
	escrowAcc := &types.Account{}
	escrowAcc.SetBalance("DAI", big.NewInt(2_000))
	for _, commitment := range []*big.Int{big.NewInt(111), big.NewInt(222)} {
		if err := dai.ApplyDeposit(depositor, depositorAcc, escrow, escrowAcc, commitment); err != nil {
			t.Fatalf("deposit commit: %v", err)
		}
	}
	daiCommitments, err := dai.ListCommitments()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(daiCommitments) != 2 || daiCommitments[1].Cmp(big.NewInt(222)) != 0 {
		t.Fatalf("unexpected commitments %v", daiCommitments)
	}
	wethCommitments, err := weth.ListCommitments()
	if err != nil {
		t.Fatalf("list weth: %v", err)
	}
	if len(wethCommitments) != 0 {
		t.Fatalf("pools not isolated: %v", wethCommitments)
	}

	nh := big.NewInt(333)
	if spent, _ := dai.HasNullifier(nh); spent {
		t.Fatalf("fresh nullifier reported spent")
	}
	escrowAcc.SetBalance("DAI", big.NewInt(1_000))
	depositorAcc.SetBalance("DAI", big.NewInt(1_000))
	if err := dai.ApplyWithdrawal(escrow, escrowAcc, depositor, depositorAcc, nh); err != nil {
		t.Fatalf("withdrawal commit: %v", err)
	}
	if spent, _ := dai.HasNullifier(nh); !spent {
		t.Fatalf("nullifier not persisted")
	}
	if spent, _ := weth.HasNullifier(nh); spent {
		t.Fatalf("nullifier leaked across pools")
	}
	// Account writes land in the same commit as the nullifier.
	account, err := store.GetAccount(depositor)
	if err != nil || account == nil {
		t.Fatalf("recipient account missing: %v %v", account, err)
	}
	if account.Balance("DAI").Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("recipient balance %s", account.Balance("DAI"))
	}
}
