package rpc

import "net/http"

type positionsTransferParams struct {
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID uint64 `json:"tokenId"`
}

type positionsQueryParams struct {
	Address string `json:"address"`
}

type positionsTokenResult struct {
	TokenID uint64 `json:"tokenId"`
	Owner   string `json:"owner"`
	Held    bool   `json:"held"`
}

func (s *Server) handlePositionsTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionsTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.touchClocks()
	if err := s.positions.Transfer(from, to, params.TokenID); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	s.log.Info("position token transferred", "token", params.TokenID, "from", from.String(), "to", to.String())
	writeResult(w, req.ID, true)
}

func (s *Server) handlePositionsGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionsQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	address, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, held, err := s.positions.TokenOf(address)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionsTokenResult{TokenID: id, Owner: address.String(), Held: held})
}
