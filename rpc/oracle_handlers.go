package rpc

import "net/http"

type oracleSetPriceParams struct {
	Asset string `json:"asset"`
	// Price is the USD quote as an integer with 8 fractional digits.
	Price string `json:"price"`
}

type oracleQueryParams struct {
	Asset string `json:"asset"`
}

type oraclePriceResult struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oracleSetPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount("price", params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.oracle.SetAssetPrice(params.Asset, price); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	s.log.Info("price updated", "asset", params.Asset, "price", price.String())
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oracleQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := s.oracle.GetPrice(params.Asset)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, oraclePriceResult{Asset: params.Asset, Price: price.String()})
}
