package rpc

import (
	"math/big"
	"net/http"

	"miniaave/crypto"
	"miniaave/observability"
)

type lendingAmountParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type lendingLiquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
}

type lendingQueryParams struct {
	Address string `json:"address,omitempty"`
	Asset   string `json:"asset,omitempty"`
}

type lendingSupplyResult struct {
	Minted string `json:"minted"`
}

type lendingLiquidateResult struct {
	RepaidDebt       string `json:"repaidDebt"`
	SeizedCollateral string `json:"seizedCollateral"`
}

type lendingReserveResult struct {
	Asset          string `json:"asset"`
	TotalSupplied  string `json:"totalSupplied"`
	TotalBorrowed  string `json:"totalBorrowed"`
	SupplyIndex    string `json:"supplyIndex"`
	BorrowIndex    string `json:"borrowIndex"`
	LastUpdateTime uint64 `json:"lastUpdateTime"`
}

type lendingPositionResult struct {
	Address  string `json:"address"`
	Asset    string `json:"asset"`
	Supplied string `json:"supplied"`
	Borrowed string `json:"borrowed"`
}

type lendingHealthResult struct {
	Address      string `json:"address"`
	HasDebt      bool   `json:"hasDebt"`
	HealthFactor string `json:"healthFactor,omitempty"`
}

type lendingAssetResult struct {
	Symbol                  string `json:"symbol"`
	Decimals                uint8  `json:"decimals"`
	ReceiptToken            string `json:"receiptToken"`
	LTVBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
}

func (s *Server) decodeAmountCall(w http.ResponseWriter, req *RPCRequest) (addr addrAmount, ok bool) {
	var params lendingAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return addrAmount{}, false
	}
	address, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return addrAmount{}, false
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return addrAmount{}, false
	}
	return addrAmount{address: address, asset: params.Asset, amount: amount}, true
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	call, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	s.touchClocks()
	minted, err := s.engine.Supply(call.address, call.asset, call.amount)
	observability.LedgerMetrics().RecordOperation("supply", call.asset, err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingSupplyResult{Minted: minted.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	call, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	s.touchClocks()
	err := s.engine.Withdraw(call.address, call.asset, call.amount)
	observability.LedgerMetrics().RecordOperation("withdraw", call.asset, err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	call, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	s.touchClocks()
	err := s.engine.Borrow(call.address, call.asset, call.amount)
	observability.LedgerMetrics().RecordOperation("borrow", call.asset, err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	call, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	s.touchClocks()
	err := s.engine.Repay(call.address, call.asset, call.amount)
	observability.LedgerMetrics().RecordOperation("repay", call.asset, err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	call, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	s.touchClocks()
	if err := s.engine.Mint(call.address, call.asset, call.amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lendingLiquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	liquidator, err := parseAddress("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress("borrower", params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.touchClocks()
	repaid, seized, err := s.engine.Liquidate(liquidator, borrower, params.DebtAsset, params.CollateralAsset)
	observability.LedgerMetrics().RecordOperation("liquidate", params.DebtAsset, err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	observability.LedgerMetrics().RecordLiquidation()
	writeResult(w, req.ID, lendingLiquidateResult{
		RepaidDebt:       repaid.String(),
		SeizedCollateral: seized.String(),
	})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lendingQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.touchClocks()
	reserve, err := s.engine.ReserveView(params.Asset)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingReserveResult{
		Asset:          reserve.Asset,
		TotalSupplied:  reserve.TotalSupplied.String(),
		TotalBorrowed:  reserve.TotalBorrowed.String(),
		SupplyIndex:    reserve.SupplyIndex.String(),
		BorrowIndex:    reserve.BorrowIndex.String(),
		LastUpdateTime: reserve.LastUpdateTime,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lendingQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	address, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.touchClocks()
	supplied, borrowed, err := s.engine.PositionView(address, params.Asset)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingPositionResult{
		Address:  address.String(),
		Asset:    params.Asset,
		Supplied: supplied.String(),
		Borrowed: borrowed.String(),
	})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lendingQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	address, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.touchClocks()
	hf, hasDebt, err := s.engine.HealthFactor(address)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	result := lendingHealthResult{Address: address.String(), HasDebt: hasDebt}
	if hasDebt {
		result.HealthFactor = ratDecimal(hf)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	assets, err := s.registry.Assets()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	out := make([]lendingAssetResult, 0, len(assets))
	for _, cfg := range assets {
		out = append(out, lendingAssetResult{
			Symbol:                  cfg.Symbol,
			Decimals:                cfg.Decimals,
			ReceiptToken:            cfg.ReceiptToken,
			LTVBps:                  cfg.LTVBps,
			LiquidationThresholdBps: cfg.LiquidationThresholdBps,
			LiquidationBonusBps:     cfg.LiquidationBonusBps,
		})
	}
	writeResult(w, req.ID, out)
}

type addrAmount struct {
	address crypto.Address
	asset   string
	amount  *big.Int
}

// ratDecimal renders a health factor with four fractional digits.
func ratDecimal(r *big.Rat) string {
	return r.FloatString(4)
}
