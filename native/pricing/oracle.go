// Package pricing provides the price feeds consulted by the lending ledger.
// Prices are quoted in USD as unsigned fixed-point integers with 8
// fractional digits, so $2,000.00 is 200_000_000_000.
package pricing

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrUnknownAsset = errors.New("pricing: no price published for asset")
	ErrInvalidPrice = errors.New("pricing: price must be positive")
)

// Oracle answers price queries for registered assets.
type Oracle interface {
	GetPrice(asset string) (*big.Int, error)
}

// ManualOracle is an operator-fed price store. Prices are pushed via
// SetAssetPrice (by the node operator over RPC, or by genesis wiring) and
// served verbatim until replaced.
type ManualOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewManualOracle() *ManualOracle {
	return &ManualOracle{prices: make(map[string]*big.Int)}
}

// SetAssetPrice publishes the USD price for an asset, replacing any prior
// quote. Zero and negative prices are rejected.
func (o *ManualOracle) SetAssetPrice(asset string, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	o.mu.Lock()
	o.prices[asset] = new(big.Int).Set(price)
	o.mu.Unlock()
	return nil
}

// GetPrice returns the latest published price for the asset.
func (o *ManualOracle) GetPrice(asset string) (*big.Int, error) {
	o.mu.RLock()
	price, ok := o.prices[asset]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAsset
	}
	return new(big.Int).Set(price), nil
}
