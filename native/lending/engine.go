package lending

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"miniaave/core/types"
	"miniaave/crypto"
)

// closeFactorBps caps the share of a borrower's debt a single liquidation
// may repay.
const closeFactorBps = 5_000

// engineState is the persistence surface the engine mutates. Reads return
// (nil, nil) for absent reserves, positions, and accounts; Apply commits a
// whole write set atomically.
type engineState interface {
	GetReserve(asset string) (*Reserve, error)
	GetPosition(addr crypto.Address, asset string) (*AccountPosition, error)
	UserAssets(addr crypto.Address) ([]string, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	Apply(m *Mutation) error
}

// Oracle supplies the current USD price of an asset as an unsigned
// fixed-point value with 8 fractional decimal digits.
type Oracle interface {
	GetPrice(asset string) (*big.Int, error)
}

// PositionTokens is the position-token registry hook. MintOnFirstBorrow is
// idempotent per owner; Settle burns the token once the account carries no
// debt and no collateral.
type PositionTokens interface {
	MintOnFirstBorrow(owner crypto.Address) (uint64, error)
	Settle(owner crypto.Address) error
}

// Engine orchestrates the primary state transitions for the lending ledger.
// All operations are serialized behind a single mutex: interest accrual,
// balance mutation, and cross-asset health checks must be read-consistent
// within one call.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	registry      *Registry
	oracle        Oracle
	model         *InterestModel
	tokens        PositionTokens
	moduleAddress crypto.Address
	timestamp     uint64
}

// NewEngine constructs a lending engine bound to the module treasury address
// and asset registry.
func NewEngine(moduleAddr crypto.Address, registry *Registry) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		registry:      registry,
		model:         DefaultInterestModel.Clone(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the price feed consulted for health computation.
func (e *Engine) SetOracle(oracle Oracle) { e.oracle = oracle }

// SetInterestModel configures the interest rate strategy used during accrual.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	if model != nil {
		e.model = model.Clone()
	} else {
		e.model = nil
	}
}

// SetPositionTokens wires the position-token registry minted against
// borrowing accounts.
func (e *Engine) SetPositionTokens(tokens PositionTokens) { e.tokens = tokens }

// SetTimestamp records the unix time used when computing accrual deltas.
// Callers advance it before each operation; tests inject it directly.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.timestamp = ts
	e.mu.Unlock()
}

// Mint credits freshly issued tokens of a registered asset to a wallet
// account. This is the faucet used to seed balances in tests and local nets.
func (e *Engine) Mint(addr crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.GetConfig(asset); err != nil {
		return err
	}
	account, err := e.loadAccount(addr)
	if err != nil {
		return err
	}
	account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
	mut := &Mutation{}
	mut.putAccount(addr, account)
	return e.state.Apply(mut)
}

// Supply deposits amount of the asset into the reserve. The supplied balance
// is tracked in supply-index units and doubles as borrowing collateral. The
// minted scaled (receipt-token) amount is returned.
func (e *Engine) Supply(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, _, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	e.accrueReserve(reserve)

	account, err := e.loadAccount(user)
	if err != nil {
		return nil, err
	}
	if account.Balance(asset).Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return nil, err
	}

	minted := scaledFromAmount(amount, reserve.SupplyIndex)

	// Write phase: all checks passed.
	account.SetBalance(asset, new(big.Int).Sub(account.Balance(asset), amount))
	moduleAcc.SetBalance(asset, new(big.Int).Add(moduleAcc.Balance(asset), amount))
	position.ScaledSupply = new(big.Int).Add(position.ScaledSupply, minted)
	reserve.TotalSupplied = new(big.Int).Add(reserve.TotalSupplied, amount)

	mut := &Mutation{}
	mut.putAccount(user, account)
	mut.putAccount(e.moduleAddress, moduleAcc)
	mut.putPosition(position)
	mut.putReserve(reserve)
	if err := e.state.Apply(mut); err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw releases amount of previously supplied collateral back to the
// user, provided the remaining positions stay healthy.
func (e *Engine) Withdraw(user crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, cfg, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	e.accrueReserve(reserve)

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return err
	}
	supplied := amountFromScaled(position.ScaledSupply, reserve.SupplyIndex)
	if supplied.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if e.availableLiquidity(reserve).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	totals, err := e.riskTotals(user, map[string]*Reserve{asset: reserve})
	if err != nil {
		return err
	}
	if totals.debt.Sign() > 0 {
		price, err := e.oracle.GetPrice(asset)
		if err != nil {
			return err
		}
		removed := bpsShare(usdValue(amount, price, cfg.Decimals), cfg.LiquidationThresholdBps)
		remaining := new(big.Int).Sub(totals.thresholdWeighted, removed)
		if remaining.Cmp(totals.debt) < 0 {
			return ErrInsufficientHealth
		}
	}

	account, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	burned := scaledFromAmount(amount, reserve.SupplyIndex)
	if burned.Cmp(position.ScaledSupply) > 0 {
		burned = new(big.Int).Set(position.ScaledSupply)
	}

	moduleAcc.SetBalance(asset, new(big.Int).Sub(moduleAcc.Balance(asset), amount))
	account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
	position.ScaledSupply = new(big.Int).Sub(position.ScaledSupply, burned)
	reserve.TotalSupplied = new(big.Int).Sub(reserve.TotalSupplied, amount)

	mut := &Mutation{}
	mut.putAccount(e.moduleAddress, moduleAcc)
	mut.putAccount(user, account)
	mut.putPosition(position)
	mut.putReserve(reserve)
	if err := e.state.Apply(mut); err != nil {
		return err
	}
	return e.settleIfClosed(user)
}

// Borrow draws amount of the asset against the user's supplied collateral.
// The first borrow of an account mints its position token.
func (e *Engine) Borrow(user crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, cfg, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	e.accrueReserve(reserve)

	if e.availableLiquidity(reserve).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	totals, err := e.riskTotals(user, map[string]*Reserve{asset: reserve})
	if err != nil {
		return err
	}
	price, err := e.oracle.GetPrice(asset)
	if err != nil {
		return err
	}
	projectedDebt := new(big.Int).Add(totals.debt, usdValue(amount, price, cfg.Decimals))
	if totals.ltvWeighted.Cmp(projectedDebt) < 0 {
		return ErrInsufficientCollateral
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	account, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return err
	}

	firstBorrow := totals.debt.Sign() == 0

	borrowedScaled := scaledFromAmount(amount, reserve.BorrowIndex)

	moduleAcc.SetBalance(asset, new(big.Int).Sub(moduleAcc.Balance(asset), amount))
	account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
	position.ScaledDebt = new(big.Int).Add(position.ScaledDebt, borrowedScaled)
	reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, amount)

	mut := &Mutation{}
	mut.putAccount(e.moduleAddress, moduleAcc)
	mut.putAccount(user, account)
	mut.putPosition(position)
	mut.putReserve(reserve)
	if err := e.state.Apply(mut); err != nil {
		return err
	}

	if firstBorrow && e.tokens != nil {
		if _, err := e.tokens.MintOnFirstBorrow(user); err != nil {
			return err
		}
	}
	return nil
}

// Repay retires amount of the user's outstanding debt in the asset. Paying
// more than the outstanding debt is rejected with ErrOverRepayment rather
// than silently capped.
func (e *Engine) Repay(user crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, _, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	e.accrueReserve(reserve)

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return err
	}
	outstanding := amountFromScaled(position.ScaledDebt, reserve.BorrowIndex)
	if amount.Cmp(outstanding) > 0 {
		return ErrOverRepayment
	}

	account, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	if account.Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	repaidScaled := scaledFromAmount(amount, reserve.BorrowIndex)
	if repaidScaled.Cmp(position.ScaledDebt) > 0 {
		repaidScaled = new(big.Int).Set(position.ScaledDebt)
	}

	account.SetBalance(asset, new(big.Int).Sub(account.Balance(asset), amount))
	moduleAcc.SetBalance(asset, new(big.Int).Add(moduleAcc.Balance(asset), amount))
	position.ScaledDebt = new(big.Int).Sub(position.ScaledDebt, repaidScaled)
	reserve.TotalBorrowed = new(big.Int).Sub(reserve.TotalBorrowed, amount)
	if reserve.TotalBorrowed.Sign() < 0 {
		reserve.TotalBorrowed = big.NewInt(0)
	}

	mut := &Mutation{}
	mut.putAccount(user, account)
	mut.putAccount(e.moduleAddress, moduleAcc)
	mut.putPosition(position)
	mut.putReserve(reserve)
	if err := e.state.Apply(mut); err != nil {
		return err
	}
	return e.settleIfClosed(user)
}

// Liquidate lets a third party repay part of an unhealthy borrower's debt in
// exchange for a discounted amount of the borrower's collateral in the named
// collateral asset. The repaid debt and seized collateral are returned.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, debtAsset, collateralAsset string) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	debtReserve, debtCfg, err := e.ensureReserve(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	e.accrueReserve(debtReserve)

	overrides := map[string]*Reserve{debtAsset: debtReserve}
	collateralReserve := debtReserve
	collateralCfg := debtCfg
	if !strings.EqualFold(debtAsset, collateralAsset) {
		collateralReserve, collateralCfg, err = e.ensureReserve(collateralAsset)
		if err != nil {
			return nil, nil, err
		}
		e.accrueReserve(collateralReserve)
		overrides[collateralAsset] = collateralReserve
	}

	totals, err := e.riskTotals(borrower, overrides)
	if err != nil {
		return nil, nil, err
	}
	if totals.debt.Sign() == 0 || totals.thresholdWeighted.Cmp(totals.debt) >= 0 {
		return nil, nil, ErrHealthyPosition
	}

	debtPosition, err := e.ensurePosition(borrower, debtAsset)
	if err != nil {
		return nil, nil, err
	}
	outstanding := amountFromScaled(debtPosition.ScaledDebt, debtReserve.BorrowIndex)
	if outstanding.Sign() == 0 {
		return nil, nil, ErrZeroAmount
	}
	repayAmount := bpsShare(outstanding, closeFactorBps)
	if repayAmount.Sign() == 0 {
		repayAmount = new(big.Int).Set(outstanding)
	}

	collateralPosition, err := e.ensurePosition(borrower, collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralBalance := amountFromScaled(collateralPosition.ScaledSupply, collateralReserve.SupplyIndex)
	if collateralBalance.Sign() == 0 {
		return nil, nil, ErrInsufficientCollateral
	}

	debtPrice, err := e.oracle.GetPrice(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := e.oracle.GetPrice(collateralAsset)
	if err != nil {
		return nil, nil, err
	}

	// Seized collateral is the repaid value plus the liquidation bonus of
	// the collateral asset, capped at the borrower's balance.
	repayValue := usdValue(repayAmount, debtPrice, debtCfg.Decimals)
	seizeValue := bpsShare(repayValue, collateralCfg.LiquidationBonusBps)
	seizeAmount := usdToAmount(seizeValue, collateralPrice, collateralCfg.Decimals)
	if seizeAmount.Cmp(collateralBalance) > 0 {
		seizeAmount = new(big.Int).Set(collateralBalance)
	}

	liquidatorAcc, err := e.loadAccount(liquidator)
	if err != nil {
		return nil, nil, err
	}
	if liquidatorAcc.Balance(debtAsset).Cmp(repayAmount) < 0 {
		return nil, nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}
	if moduleAcc.Balance(collateralAsset).Cmp(seizeAmount) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	repaidScaled := scaledFromAmount(repayAmount, debtReserve.BorrowIndex)
	if repaidScaled.Cmp(debtPosition.ScaledDebt) > 0 {
		repaidScaled = new(big.Int).Set(debtPosition.ScaledDebt)
	}
	seizedScaled := scaledFromAmount(seizeAmount, collateralReserve.SupplyIndex)
	if seizedScaled.Cmp(collateralPosition.ScaledSupply) > 0 {
		seizedScaled = new(big.Int).Set(collateralPosition.ScaledSupply)
	}

	liquidatorAcc.SetBalance(debtAsset, new(big.Int).Sub(liquidatorAcc.Balance(debtAsset), repayAmount))
	moduleAcc.SetBalance(debtAsset, new(big.Int).Add(moduleAcc.Balance(debtAsset), repayAmount))
	moduleAcc.SetBalance(collateralAsset, new(big.Int).Sub(moduleAcc.Balance(collateralAsset), seizeAmount))
	liquidatorAcc.SetBalance(collateralAsset, new(big.Int).Add(liquidatorAcc.Balance(collateralAsset), seizeAmount))

	debtPosition.ScaledDebt = new(big.Int).Sub(debtPosition.ScaledDebt, repaidScaled)
	collateralPosition.ScaledSupply = new(big.Int).Sub(collateralPosition.ScaledSupply, seizedScaled)
	debtReserve.TotalBorrowed = new(big.Int).Sub(debtReserve.TotalBorrowed, repayAmount)
	if debtReserve.TotalBorrowed.Sign() < 0 {
		debtReserve.TotalBorrowed = big.NewInt(0)
	}
	collateralReserve.TotalSupplied = new(big.Int).Sub(collateralReserve.TotalSupplied, seizeAmount)

	mut := &Mutation{}
	mut.putAccount(liquidator, liquidatorAcc)
	mut.putAccount(e.moduleAddress, moduleAcc)
	mut.putPosition(debtPosition)
	mut.putPosition(collateralPosition)
	mut.putReserve(debtReserve)
	if collateralReserve != debtReserve {
		mut.putReserve(collateralReserve)
	}
	if err := e.state.Apply(mut); err != nil {
		return nil, nil, err
	}
	if err := e.settleIfClosed(borrower); err != nil {
		return nil, nil, err
	}
	return repayAmount, seizeAmount, nil
}

// MovePositions re-keys every ledger position of one owner to another. It is
// invoked by the position-token registry when a token transfers; the new
// holder controls the collateral/debt bundle.
func (e *Engine) MovePositions(from, to crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	assets, err := e.state.UserAssets(from)
	if err != nil {
		return err
	}
	mut := &Mutation{}
	for _, asset := range assets {
		position, err := e.state.GetPosition(from, asset)
		if err != nil {
			return err
		}
		if position == nil || position.IsEmpty() {
			continue
		}
		target, err := e.ensurePosition(to, asset)
		if err != nil {
			return err
		}
		target.ScaledSupply = new(big.Int).Add(target.ScaledSupply, position.ScaledSupply)
		target.ScaledDebt = new(big.Int).Add(target.ScaledDebt, position.ScaledDebt)
		mut.putPosition(target)
		mut.clearPosition(from, asset)
	}
	if len(mut.Positions) == 0 && len(mut.Cleared) == 0 {
		return nil
	}
	return e.state.Apply(mut)
}

// --- Queries ---

// ReserveView returns the reserve with interest projected to the engine's
// current timestamp, without persisting the accrual.
func (e *Engine) ReserveView(asset string) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, _, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	e.accrueReserve(reserve)
	return reserve, nil
}

// PositionView reports the user's real supplied and borrowed balances in the
// asset at projected indices.
func (e *Engine) PositionView(user crypto.Address, asset string) (supplied, borrowed *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, _, err := e.ensureReserve(asset)
	if err != nil {
		return nil, nil, err
	}
	e.accrueReserve(reserve)
	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return nil, nil, err
	}
	supplied = amountFromScaled(position.ScaledSupply, reserve.SupplyIndex)
	borrowed = amountFromScaled(position.ScaledDebt, reserve.BorrowIndex)
	return supplied, borrowed, nil
}

// HealthFactor returns the user's health factor as a rational, with hasDebt
// false when the account carries no debt (health treated as infinite).
func (e *Engine) HealthFactor(user crypto.Address) (*big.Rat, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	totals, err := e.riskTotals(user, nil)
	if err != nil {
		return nil, false, err
	}
	if totals.debt.Sign() == 0 {
		return nil, false, nil
	}
	return new(big.Rat).SetFrac(totals.thresholdWeighted, totals.debt), true, nil
}

// --- Internals ---

// accrueReserve applies linear interest for the elapsed seconds since the
// reserve's last update. It must run before any balance read or write in the
// same operation so stale indices can never be exploited.
func (e *Engine) accrueReserve(reserve *Reserve) {
	if reserve == nil || e.model == nil {
		return
	}
	var elapsed uint64
	if e.timestamp > reserve.LastUpdateTime {
		elapsed = e.timestamp - reserve.LastUpdateTime
	}
	if elapsed == 0 || reserve.TotalBorrowed == nil || reserve.TotalBorrowed.Sign() == 0 {
		if e.timestamp > reserve.LastUpdateTime {
			reserve.LastUpdateTime = e.timestamp
		}
		return
	}

	utilization := Utilization(reserve.TotalBorrowed, reserve.TotalSupplied)
	supplyRate, borrowRate := e.model.ComputeRates(utilization)

	reserve.BorrowIndex = rayMul(reserve.BorrowIndex, rateFactor(borrowRate, elapsed))
	reserve.SupplyIndex = rayMul(reserve.SupplyIndex, rateFactor(supplyRate, elapsed))

	// Borrow interest grows both sides of the book so utilization can
	// never exceed one through accrual alone.
	interest := computeInterest(reserve.TotalBorrowed, borrowRate, elapsed)
	if interest.Sign() > 0 {
		reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, interest)
		reserve.TotalSupplied = new(big.Int).Add(reserve.TotalSupplied, interest)
	}
	reserve.LastUpdateTime = e.timestamp
}

func (e *Engine) ensureReserve(asset string) (*Reserve, *AssetConfig, error) {
	cfg, err := e.registry.GetConfig(asset)
	if err != nil {
		return nil, nil, err
	}
	reserve, err := e.state.GetReserve(cfg.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if reserve == nil {
		reserve = &Reserve{Asset: cfg.Symbol}
	}
	if reserve.TotalSupplied == nil {
		reserve.TotalSupplied = big.NewInt(0)
	}
	if reserve.TotalBorrowed == nil {
		reserve.TotalBorrowed = big.NewInt(0)
	}
	if reserve.SupplyIndex == nil || reserve.SupplyIndex.Sign() == 0 {
		reserve.SupplyIndex = new(big.Int).Set(ray)
	}
	if reserve.BorrowIndex == nil || reserve.BorrowIndex.Sign() == 0 {
		reserve.BorrowIndex = new(big.Int).Set(ray)
	}
	return reserve, cfg, nil
}

func (e *Engine) ensurePosition(addr crypto.Address, asset string) (*AccountPosition, error) {
	position, err := e.state.GetPosition(addr, asset)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &AccountPosition{Address: addr, Asset: asset}
	}
	if position.ScaledSupply == nil {
		position.ScaledSupply = big.NewInt(0)
	}
	if position.ScaledDebt == nil {
		position.ScaledDebt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &types.Account{}
	}
	return account, nil
}

// settleIfClosed burns the user's position token once no position remains.
func (e *Engine) settleIfClosed(user crypto.Address) error {
	if e.tokens == nil {
		return nil
	}
	assets, err := e.state.UserAssets(user)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		position, err := e.state.GetPosition(user, asset)
		if err != nil {
			return err
		}
		if position != nil && !position.IsEmpty() {
			return nil
		}
	}
	return e.tokens.Settle(user)
}

func (e *Engine) availableLiquidity(reserve *Reserve) *big.Int {
	liquidity := new(big.Int).Sub(reserve.TotalSupplied, reserve.TotalBorrowed)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

type riskTotals struct {
	ltvWeighted       *big.Int
	thresholdWeighted *big.Int
	debt              *big.Int
}

// riskTotals walks every position of the user under a consistent snapshot:
// reserves passed in overrides are used as-is (already accrued by the
// caller); all others are projected in memory without persisting.
func (e *Engine) riskTotals(user crypto.Address, overrides map[string]*Reserve) (riskTotals, error) {
	totals := riskTotals{
		ltvWeighted:       big.NewInt(0),
		thresholdWeighted: big.NewInt(0),
		debt:              big.NewInt(0),
	}
	assets, err := e.state.UserAssets(user)
	if err != nil {
		return totals, err
	}
	for _, asset := range assets {
		position, err := e.state.GetPosition(user, asset)
		if err != nil {
			return totals, err
		}
		if position == nil || position.IsEmpty() {
			continue
		}
		reserve, ok := overrides[asset]
		var cfg *AssetConfig
		if ok {
			cfg, err = e.registry.GetConfig(asset)
			if err != nil {
				return totals, err
			}
		} else {
			var stored *Reserve
			stored, cfg, err = e.ensureReserve(asset)
			if err != nil {
				return totals, err
			}
			reserve = stored.Clone()
			e.accrueReserve(reserve)
		}
		price, err := e.oracle.GetPrice(asset)
		if err != nil {
			return totals, err
		}
		if supplied := amountFromScaled(position.ScaledSupply, reserve.SupplyIndex); supplied.Sign() > 0 {
			value := usdValue(supplied, price, cfg.Decimals)
			totals.ltvWeighted.Add(totals.ltvWeighted, bpsShare(value, cfg.LTVBps))
			totals.thresholdWeighted.Add(totals.thresholdWeighted, bpsShare(value, cfg.LiquidationThresholdBps))
		}
		if borrowed := amountFromScaled(position.ScaledDebt, reserve.BorrowIndex); borrowed.Sign() > 0 {
			totals.debt.Add(totals.debt, usdValue(borrowed, price, cfg.Decimals))
		}
	}
	if totals.ltvWeighted.Sign() < 0 || totals.thresholdWeighted.Sign() < 0 || totals.debt.Sign() < 0 {
		// A negative aggregate is an accounting invariant violation, not a
		// user error.
		return totals, fmt.Errorf("lending engine: negative risk totals for %s", user.String())
	}
	return totals, nil
}
