// Package state persists protocol state in a key/value database. Records are
// JSON-encoded under explicit key prefixes; list-valued lookups are backed by
// index keys maintained on every write, so no key iteration is required of
// the underlying database.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"miniaave/core/types"
	"miniaave/crypto"
	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/storage"
)

const (
	keyAssetPrefix    = "lending/asset/"
	keyAssetIndex     = "lending/assets"
	keyReservePrefix  = "lending/reserve/"
	keyPositionPrefix = "lending/position/"
	keyUserAssets     = "lending/userassets/"
	keyAccountPrefix  = "account/"
	keyTokenPrefix    = "positions/token/"
	keyTokenByOwner   = "positions/owner/"
	keyTokenCounter   = "positions/nextid"
)

// Store adapts a storage.Database to the state interfaces of the native
// modules.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) getJSON(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

func putJSONBatch(batch storage.Batch, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	batch.Put([]byte(key), raw)
	return nil
}

// --- Asset registry ---

type assetRecord struct {
	Symbol                  string `json:"symbol"`
	Decimals                uint8  `json:"decimals"`
	ReceiptToken            string `json:"receiptToken"`
	LTVBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
}

func (s *Store) GetAssetConfig(asset string) (*lending.AssetConfig, error) {
	var rec assetRecord
	ok, err := s.getJSON(keyAssetPrefix+asset, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.AssetConfig{
		Symbol:                  rec.Symbol,
		Decimals:                rec.Decimals,
		ReceiptToken:            rec.ReceiptToken,
		LTVBps:                  rec.LTVBps,
		LiquidationThresholdBps: rec.LiquidationThresholdBps,
		LiquidationBonusBps:     rec.LiquidationBonusBps,
	}, nil
}

func (s *Store) PutAssetConfig(cfg *lending.AssetConfig) error {
	rec := assetRecord{
		Symbol:                  cfg.Symbol,
		Decimals:                cfg.Decimals,
		ReceiptToken:            cfg.ReceiptToken,
		LTVBps:                  cfg.LTVBps,
		LiquidationThresholdBps: cfg.LiquidationThresholdBps,
		LiquidationBonusBps:     cfg.LiquidationBonusBps,
	}
	batch := s.db.NewBatch()
	if err := putJSONBatch(batch, keyAssetPrefix+cfg.Symbol, rec); err != nil {
		return err
	}
	var symbols []string
	if _, err := s.getJSON(keyAssetIndex, &symbols); err != nil {
		return err
	}
	indexed := false
	for _, sym := range symbols {
		if sym == cfg.Symbol {
			indexed = true
			break
		}
	}
	if !indexed {
		if err := putJSONBatch(batch, keyAssetIndex, append(symbols, cfg.Symbol)); err != nil {
			return err
		}
	}
	return s.db.Commit(batch)
}

func (s *Store) ListAssetConfigs() ([]*lending.AssetConfig, error) {
	var symbols []string
	if _, err := s.getJSON(keyAssetIndex, &symbols); err != nil {
		return nil, err
	}
	out := make([]*lending.AssetConfig, 0, len(symbols))
	for _, sym := range symbols {
		cfg, err := s.GetAssetConfig(sym)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// --- Reserves and positions ---

type reserveRecord struct {
	Asset          string   `json:"asset"`
	TotalSupplied  *big.Int `json:"totalSupplied"`
	TotalBorrowed  *big.Int `json:"totalBorrowed"`
	SupplyIndex    *big.Int `json:"supplyIndex"`
	BorrowIndex    *big.Int `json:"borrowIndex"`
	LastUpdateTime uint64   `json:"lastUpdateTime"`
}

func (s *Store) GetReserve(asset string) (*lending.Reserve, error) {
	var rec reserveRecord
	ok, err := s.getJSON(keyReservePrefix+asset, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Reserve{
		Asset:          rec.Asset,
		TotalSupplied:  rec.TotalSupplied,
		TotalBorrowed:  rec.TotalBorrowed,
		SupplyIndex:    rec.SupplyIndex,
		BorrowIndex:    rec.BorrowIndex,
		LastUpdateTime: rec.LastUpdateTime,
	}, nil
}

func stageReserve(batch storage.Batch, reserve *lending.Reserve) error {
	return putJSONBatch(batch, keyReservePrefix+reserve.Asset, reserveRecord{
		Asset:          reserve.Asset,
		TotalSupplied:  reserve.TotalSupplied,
		TotalBorrowed:  reserve.TotalBorrowed,
		SupplyIndex:    reserve.SupplyIndex,
		BorrowIndex:    reserve.BorrowIndex,
		LastUpdateTime: reserve.LastUpdateTime,
	})
}

type positionRecord struct {
	Address      string   `json:"address"`
	Asset        string   `json:"asset"`
	ScaledSupply *big.Int `json:"scaledSupply"`
	ScaledDebt   *big.Int `json:"scaledDebt"`
}

func positionKey(addr crypto.Address, asset string) string {
	return keyPositionPrefix + addr.String() + "/" + asset
}

func (s *Store) GetPosition(addr crypto.Address, asset string) (*lending.AccountPosition, error) {
	var rec positionRecord
	ok, err := s.getJSON(positionKey(addr, asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	decoded, err := crypto.DecodeAddress(rec.Address)
	if err != nil {
		return nil, fmt.Errorf("state: position owner: %w", err)
	}
	return &lending.AccountPosition{
		Address:      decoded,
		Asset:        rec.Asset,
		ScaledSupply: rec.ScaledSupply,
		ScaledDebt:   rec.ScaledDebt,
	}, nil
}

func (s *Store) UserAssets(addr crypto.Address) ([]string, error) {
	var assets []string
	if _, err := s.getJSON(keyUserAssets+addr.String(), &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// --- Accounts ---

type accountRecord struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	var rec accountRecord
	ok, err := s.getJSON(keyAccountPrefix+addr.String(), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &types.Account{Nonce: rec.Nonce, Balances: rec.Balances}, nil
}

func stageAccount(batch storage.Batch, addr crypto.Address, account *types.Account) error {
	return putJSONBatch(batch, keyAccountPrefix+addr.String(), accountRecord{
		Nonce:    account.Nonce,
		Balances: account.Balances,
	})
}

// --- Atomic commit ---

// positionDelta accumulates per-owner index edits so one userassets write per
// address lands in the batch regardless of how many positions moved.
type positionDelta struct {
	addr    crypto.Address
	added   []string
	dropped map[string]bool
}

// Apply commits a lending write set in one database batch. Reads issued while
// staging see the pre-commit state only, so either every write in the
// mutation becomes visible or none does.
func (s *Store) Apply(m *lending.Mutation) error {
	batch := s.db.NewBatch()
	for _, w := range m.Accounts {
		if err := stageAccount(batch, w.Address, w.Account); err != nil {
			return err
		}
	}
	for _, reserve := range m.Reserves {
		if err := stageReserve(batch, reserve); err != nil {
			return err
		}
	}

	deltas := map[string]*positionDelta{}
	deltaFor := func(addr crypto.Address) *positionDelta {
		owner := addr.String()
		d := deltas[owner]
		if d == nil {
			d = &positionDelta{addr: addr, dropped: map[string]bool{}}
			deltas[owner] = d
		}
		return d
	}
	for _, position := range m.Positions {
		rec := positionRecord{
			Address:      position.Address.String(),
			Asset:        position.Asset,
			ScaledSupply: position.ScaledSupply,
			ScaledDebt:   position.ScaledDebt,
		}
		if err := putJSONBatch(batch, positionKey(position.Address, position.Asset), rec); err != nil {
			return err
		}
		d := deltaFor(position.Address)
		d.added = append(d.added, position.Asset)
	}
	for _, ref := range m.Cleared {
		batch.Delete([]byte(positionKey(ref.Address, ref.Asset)))
		deltaFor(ref.Address).dropped[ref.Asset] = true
	}
	for owner, d := range deltas {
		assets, err := s.UserAssets(d.addr)
		if err != nil {
			return err
		}
		merged := make([]string, 0, len(assets)+len(d.added))
		for _, asset := range assets {
			if !d.dropped[asset] {
				merged = append(merged, asset)
			}
		}
		for _, asset := range d.added {
			if d.dropped[asset] {
				continue
			}
			seen := false
			for _, existing := range merged {
				if existing == asset {
					seen = true
					break
				}
			}
			if !seen {
				merged = append(merged, asset)
			}
		}
		if err := putJSONBatch(batch, keyUserAssets+owner, merged); err != nil {
			return err
		}
	}
	return s.db.Commit(batch)
}

// --- Position tokens ---

type tokenRecord struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"`
	MintedAt uint64 `json:"mintedAt"`
}

func tokenKey(id uint64) string {
	return fmt.Sprintf("%s%d", keyTokenPrefix, id)
}

func (s *Store) GetToken(id uint64) (*positions.Token, error) {
	var rec tokenRecord
	ok, err := s.getJSON(tokenKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	owner, err := crypto.DecodeAddress(rec.Owner)
	if err != nil {
		return nil, fmt.Errorf("state: token owner: %w", err)
	}
	return &positions.Token{ID: rec.ID, Owner: owner, MintedAt: rec.MintedAt}, nil
}

func (s *Store) PutToken(token *positions.Token) error {
	prev, err := s.GetToken(token.ID)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	if prev != nil && !prev.Owner.Equal(token.Owner) {
		batch.Delete([]byte(keyTokenByOwner + prev.Owner.String()))
	}
	rec := tokenRecord{ID: token.ID, Owner: token.Owner.String(), MintedAt: token.MintedAt}
	if err := putJSONBatch(batch, tokenKey(token.ID), rec); err != nil {
		return err
	}
	if err := putJSONBatch(batch, keyTokenByOwner+token.Owner.String(), token.ID); err != nil {
		return err
	}
	return s.db.Commit(batch)
}

func (s *Store) DeleteToken(id uint64) error {
	token, err := s.GetToken(id)
	if err != nil {
		return err
	}
	if token == nil {
		return nil
	}
	batch := s.db.NewBatch()
	batch.Delete([]byte(keyTokenByOwner + token.Owner.String()))
	batch.Delete([]byte(tokenKey(id)))
	return s.db.Commit(batch)
}

func (s *Store) TokenByOwner(owner crypto.Address) (uint64, bool, error) {
	var id uint64
	ok, err := s.getJSON(keyTokenByOwner+owner.String(), &id)
	if err != nil {
		return 0, false, err
	}
	return id, ok, nil
}

func (s *Store) NextTokenID() (uint64, error) {
	var next uint64
	if _, err := s.getJSON(keyTokenCounter, &next); err != nil {
		return 0, err
	}
	next++
	if err := s.putJSON(keyTokenCounter, next); err != nil {
		return 0, err
	}
	return next, nil
}
