package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/native/pricing"
	"miniaave/native/shield"
	"miniaave/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRejected       = -32030
)

type Server struct {
	engine    *lending.Engine
	registry  *lending.Registry
	positions *positions.Registry
	oracle    *pricing.ManualOracle
	pools     map[string]*shield.Pool
	log       *slog.Logger
	authToken string
	now       func() time.Time
}

func NewServer(
	engine *lending.Engine,
	registry *lending.Registry,
	posRegistry *positions.Registry,
	oracle *pricing.ManualOracle,
	pools map[string]*shield.Pool,
	log *slog.Logger,
) *Server {
	token := strings.TrimSpace(os.Getenv("MAV_RPC_TOKEN"))
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		registry:  registry,
		positions: posRegistry,
		oracle:    oracle,
		pools:     pools,
		log:       log,
		authToken: token,
		now:       time.Now,
	}
}

// Router mounts the JSON-RPC endpoint alongside health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := s.now()
	rec := &recordingWriter{ResponseWriter: w}
	s.dispatch(rec, r, req)
	observability.RPCMetrics().Observe(req.Method, rec.errored, rec.code, s.now().Sub(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lend_supply":
		s.handleSupply(w, r, req)
	case "lend_withdraw":
		s.handleWithdraw(w, r, req)
	case "lend_borrow":
		s.handleBorrow(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_liquidate":
		s.handleLiquidate(w, r, req)
	case "lend_mint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleMint(w, r, req)
	case "lend_getReserve":
		s.handleGetReserve(w, r, req)
	case "lend_getPosition":
		s.handleGetPosition(w, r, req)
	case "lend_healthFactor":
		s.handleHealthFactor(w, r, req)
	case "lend_listAssets":
		s.handleListAssets(w, r, req)
	case "oracle_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPrice(w, r, req)
	case "oracle_getPrice":
		s.handleGetPrice(w, r, req)
	case "positions_transfer":
		s.handlePositionsTransfer(w, r, req)
	case "positions_get":
		s.handlePositionsGet(w, r, req)
	case "shield_deposit":
		s.handleShieldDeposit(w, r, req)
	case "shield_withdraw":
		s.handleShieldWithdraw(w, r, req)
	case "shield_getRoot":
		s.handleShieldGetRoot(w, r, req)
	case "shield_isSpent":
		s.handleShieldIsSpent(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "server authentication token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	provided := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	return nil
}

// touchClocks advances the module clocks to wall time before a mutation.
func (s *Server) touchClocks() {
	ts := uint64(s.now().Unix())
	s.engine.SetTimestamp(ts)
	if s.positions != nil {
		s.positions.SetTimestamp(ts)
	}
}

// recordingWriter captures the status and error flag for metrics.
type recordingWriter struct {
	http.ResponseWriter
	code    int
	errored bool
}

func (r *recordingWriter) WriteHeader(code int) {
	r.code = code
	if code >= http.StatusBadRequest {
		r.errored = true
	}
	r.ResponseWriter.WriteHeader(code)
}
