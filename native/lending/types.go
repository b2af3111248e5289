package lending

import (
	"math/big"

	"miniaave/crypto"
)

// AssetConfig carries the per-asset risk parameters stored by the registry.
// Basis-point fields follow the on-chain convention: 10_000 bp = 100%.
type AssetConfig struct {
	// Symbol is the asset identifier, e.g. "WETH".
	Symbol string
	// Decimals is the number of fractional digits in the asset's native
	// unit representation.
	Decimals uint8
	// ReceiptToken names the interest-bearing token minted against
	// supplied balances, e.g. "aWETH".
	ReceiptToken string
	// LTVBps is the maximum borrow power per unit of collateral.
	LTVBps uint64
	// LiquidationThresholdBps weights collateral when computing the health
	// factor. Must be at least LTVBps to leave a safety margin.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the multiplier applied to seized collateral,
	// expressed so that 10_500 means a 5% liquidator bonus. Must be at
	// least 10_000.
	LiquidationBonusBps uint64
}

// Reserve captures the aggregate accounting state for one asset. Amounts are
// denominated in the asset's native decimals and stored as big integers.
type Reserve struct {
	// Asset is the symbol of the underlying asset.
	Asset string
	// TotalSupplied is the aggregate liquidity deposited by suppliers,
	// including accrued interest.
	TotalSupplied *big.Int
	// TotalBorrowed tracks the outstanding borrow across all accounts,
	// including accrued interest.
	TotalBorrowed *big.Int
	// SupplyIndex is the cumulative interest index applied to supplier
	// balances, ray-scaled.
	SupplyIndex *big.Int
	// BorrowIndex is the cumulative interest index applied to borrower
	// debt, ray-scaled.
	BorrowIndex *big.Int
	// LastUpdateTime is the unix timestamp of the last index refresh.
	LastUpdateTime uint64
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := &Reserve{Asset: r.Asset, LastUpdateTime: r.LastUpdateTime}
	if r.TotalSupplied != nil {
		clone.TotalSupplied = new(big.Int).Set(r.TotalSupplied)
	}
	if r.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(r.TotalBorrowed)
	}
	if r.SupplyIndex != nil {
		clone.SupplyIndex = new(big.Int).Set(r.SupplyIndex)
	}
	if r.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(r.BorrowIndex)
	}
	return clone
}

// AccountPosition is the per-(user, asset) ledger record. Both balances are
// stored index-scaled: real balance = scaled balance x current index / ray.
type AccountPosition struct {
	Address crypto.Address
	Asset   string
	// ScaledSupply is the supplied balance in supply-index units. Supplied
	// balances double as collateral.
	ScaledSupply *big.Int
	// ScaledDebt is the borrowed balance in borrow-index units.
	ScaledDebt *big.Int
}

// IsEmpty reports whether the position carries no supply and no debt.
func (p *AccountPosition) IsEmpty() bool {
	if p == nil {
		return true
	}
	return (p.ScaledSupply == nil || p.ScaledSupply.Sign() == 0) &&
		(p.ScaledDebt == nil || p.ScaledDebt.Sign() == 0)
}
