package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"miniaave/native/shield"
	"miniaave/observability"
)

type shieldDepositParams struct {
	From       string `json:"from"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Commitment string `json:"commitment"`
}

type shieldWithdrawParams struct {
	Asset         string `json:"asset"`
	Proof         string `json:"proof"`
	Root          string `json:"root"`
	NullifierHash string `json:"nullifierHash"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
}

type shieldQueryParams struct {
	Asset         string `json:"asset"`
	NullifierHash string `json:"nullifierHash,omitempty"`
}

type shieldDepositResult struct {
	LeafIndex int    `json:"leafIndex"`
	Root      string `json:"root"`
}

type shieldRootResult struct {
	Asset        string `json:"asset"`
	Root         string `json:"root"`
	Size         int    `json:"size"`
	Denomination string `json:"denomination"`
}

func (s *Server) pool(w http.ResponseWriter, req *RPCRequest, asset string) (*shield.Pool, bool) {
	pool, ok := s.pools[asset]
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no shielded pool for asset", asset)
		return nil, false
	}
	return pool, true
}

func (s *Server) handleShieldDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params shieldDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, ok := s.pool(w, req, params.Asset)
	if !ok {
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	commitment, err := parseField("commitment", params.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	index, err := pool.Deposit(from, commitment, amount)
	if err != nil {
		observability.ShieldMetrics().RecordRejection(params.Asset, "deposit")
		writeModuleError(w, req.ID, err)
		return
	}
	observability.ShieldMetrics().RecordDeposit(params.Asset)
	s.log.Info("shielded deposit", "asset", params.Asset, "leaf", index)
	writeResult(w, req.ID, shieldDepositResult{LeafIndex: index, Root: encodeField(pool.Root())})
}

func (s *Server) handleShieldWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params shieldWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, ok := s.pool(w, req, params.Asset)
	if !ok {
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.Proof), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "proof: invalid hex", err.Error())
		return
	}
	root, err := parseField("root", params.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	nullifierHash, err := parseField("nullifierHash", params.NullifierHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddress("recipient", params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	start := time.Now()
	err = pool.Withdraw(proof, root, nullifierHash, recipient, amount)
	observability.ShieldMetrics().ObserveVerification(params.Asset, time.Since(start))
	if err != nil {
		observability.ShieldMetrics().RecordRejection(params.Asset, "withdraw")
		writeModuleError(w, req.ID, err)
		return
	}
	observability.ShieldMetrics().RecordWithdrawal(params.Asset)
	s.log.Info("shielded withdrawal", "asset", params.Asset, "recipient", recipient.String())
	writeResult(w, req.ID, true)
}

func (s *Server) handleShieldGetRoot(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params shieldQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, ok := s.pool(w, req, params.Asset)
	if !ok {
		return
	}
	writeResult(w, req.ID, shieldRootResult{
		Asset:        params.Asset,
		Root:         encodeField(pool.Root()),
		Size:         pool.Size(),
		Denomination: pool.Denomination().String(),
	})
}

func (s *Server) handleShieldIsSpent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params shieldQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, ok := s.pool(w, req, params.Asset)
	if !ok {
		return
	}
	nullifierHash, err := parseField("nullifierHash", params.NullifierHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spent, err := pool.IsSpent(nullifierHash)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, spent)
}
