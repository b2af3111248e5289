package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"miniaave/crypto"
	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/native/pricing"
	"miniaave/native/shield"
	"miniaave/state"
	"miniaave/storage"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	engine *lending.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	registry := lending.NewRegistry(store)
	for _, cfg := range []lending.AssetConfig{
		{Symbol: "WETH", Decimals: 18, ReceiptToken: "aWETH", LTVBps: 8_000, LiquidationThresholdBps: 8_500, LiquidationBonusBps: 10_500},
		{Symbol: "DAI", Decimals: 18, ReceiptToken: "aDAI", LTVBps: 7_500, LiquidationThresholdBps: 8_000, LiquidationBonusBps: 10_500},
	} {
		if err := registry.AddAsset(cfg); err != nil {
			t.Fatalf("register %s: %v", cfg.Symbol, err)
		}
	}
	oracle := pricing.NewManualOracle()
	if err := oracle.SetAssetPrice("WETH", big.NewInt(200_000_000_000)); err != nil {
		t.Fatalf("set WETH price: %v", err)
	}
	if err := oracle.SetAssetPrice("DAI", big.NewInt(100_000_000)); err != nil {
		t.Fatalf("set DAI price: %v", err)
	}

	engine := lending.NewEngine(crypto.ModuleAddress("lending"), registry)
	engine.SetState(store)
	engine.SetOracle(oracle)

	posRegistry := positions.NewRegistry(store)
	posRegistry.SetMover(engine)
	engine.SetPositionTokens(posRegistry)

	pool, err := shield.NewPool(store.ShieldState("DAI"), nil, "DAI", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	server := NewServer(engine, registry, posRegistry, oracle, map[string]*shield.Pool{"DAI": pool}, slog.Default())
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: server, http: ts, engine: engine}
}

func (e *testEnv) call(t *testing.T, method string, params any) *RPCResponse {
	t.Helper()
	var raw []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("encode params: %v", err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  raw,
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, err := http.Post(e.http.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func testAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.MavPrefix, bytes.Repeat([]byte{b}, 20))
}

func wholeTokens(n int64) string {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit).String()
}

func TestSupplyBorrowOverRPC(t *testing.T) {
	env := newTestEnv(t)
	whale := testAddress(0x0a)
	user := testAddress(0x01)
	mustMint(t, env, whale, "DAI", 50_000)
	mustMint(t, env, user, "WETH", 10)

	resp := env.call(t, "lend_supply", lendingAmountParams{
		Address: whale.String(), Asset: "DAI", Amount: wholeTokens(50_000),
	})
	if resp.Error != nil {
		t.Fatalf("whale supply: %+v", resp.Error)
	}
	resp = env.call(t, "lend_supply", lendingAmountParams{
		Address: user.String(), Asset: "WETH", Amount: wholeTokens(10),
	})
	if resp.Error != nil {
		t.Fatalf("supply: %+v", resp.Error)
	}
	resp = env.call(t, "lend_borrow", lendingAmountParams{
		Address: user.String(), Asset: "DAI", Amount: wholeTokens(15_000),
	})
	if resp.Error != nil {
		t.Fatalf("borrow: %+v", resp.Error)
	}

	resp = env.call(t, "lend_healthFactor", lendingQueryParams{Address: user.String()})
	if resp.Error != nil {
		t.Fatalf("health: %+v", resp.Error)
	}
	var health lendingHealthResult
	roundtripResult(t, resp.Result, &health)
	if !health.HasDebt {
		t.Fatalf("expected debt reported")
	}
	if health.HealthFactor != "1.1333" {
		t.Fatalf("unexpected health factor %q", health.HealthFactor)
	}

	resp = env.call(t, "positions_get", positionsQueryParams{Address: user.String()})
	if resp.Error != nil {
		t.Fatalf("positions get: %+v", resp.Error)
	}
	var token positionsTokenResult
	roundtripResult(t, resp.Result, &token)
	if !token.Held {
		t.Fatalf("expected position token after borrow")
	}
}

func TestBorrowRejectionSurfacesCode(t *testing.T) {
	env := newTestEnv(t)
	user := testAddress(0x01)
	mustMint(t, env, user, "WETH", 1)

	resp := env.call(t, "lend_supply", lendingAmountParams{
		Address: user.String(), Asset: "WETH", Amount: wholeTokens(1),
	})
	if resp.Error != nil {
		t.Fatalf("supply: %+v", resp.Error)
	}
	resp = env.call(t, "lend_borrow", lendingAmountParams{
		Address: user.String(), Asset: "DAI", Amount: wholeTokens(1),
	})
	if resp.Error == nil || resp.Error.Code != codeRejected {
		t.Fatalf("expected rejection, got %+v", resp.Error)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t)
	resp := env.call(t, "lend_supply", lendingAmountParams{Address: "not-bech32", Asset: "WETH", Amount: "1"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
	resp = env.call(t, "lend_supply", lendingAmountParams{Address: testAddress(1).String(), Asset: "WETH", Amount: "-5"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid amount, got %+v", resp.Error)
	}
	resp = env.call(t, "no_suchMethod", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestMintRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.server.authToken = "secret"
	resp := env.call(t, "lend_mint", lendingAmountParams{
		Address: testAddress(1).String(), Asset: "WETH", Amount: "1",
	})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}
}

func TestShieldDepositAndRootOverRPC(t *testing.T) {
	env := newTestEnv(t)
	user := testAddress(0x01)
	mustMintUnits(t, env, user, "DAI", big.NewInt(5_000))

	commitment := shield.Commitment(big.NewInt(7), big.NewInt(9))
	resp := env.call(t, "shield_deposit", shieldDepositParams{
		From:       user.String(),
		Asset:      "DAI",
		Amount:     "1000",
		Commitment: "0x" + commitment.Text(16),
	})
	if resp.Error != nil {
		t.Fatalf("deposit: %+v", resp.Error)
	}
	var deposit shieldDepositResult
	roundtripResult(t, resp.Result, &deposit)
	if deposit.LeafIndex != 0 {
		t.Fatalf("unexpected leaf index %d", deposit.LeafIndex)
	}

	resp = env.call(t, "shield_getRoot", shieldQueryParams{Asset: "DAI"})
	if resp.Error != nil {
		t.Fatalf("get root: %+v", resp.Error)
	}
	var root shieldRootResult
	roundtripResult(t, resp.Result, &root)
	if root.Root != deposit.Root || root.Size != 1 {
		t.Fatalf("root mismatch: %+v", root)
	}

	nh := shield.NullifierHash(big.NewInt(9))
	resp = env.call(t, "shield_isSpent", shieldQueryParams{Asset: "DAI", NullifierHash: "0x" + nh.Text(16)})
	if resp.Error != nil {
		t.Fatalf("is spent: %+v", resp.Error)
	}
	if spent, ok := resp.Result.(bool); !ok || spent {
		t.Fatalf("fresh nullifier reported spent: %v", resp.Result)
	}

	resp = env.call(t, "shield_deposit", shieldDepositParams{
		From: user.String(), Asset: "WETH", Amount: "1000", Commitment: "0x1",
	})
	if resp.Error == nil {
		t.Fatalf("expected rejection for asset without pool")
	}
}

func TestShieldWithdrawOverRPC(t *testing.T) {
	env := newTestEnv(t)
	user := testAddress(0x01)
	mustMintUnits(t, env, user, "DAI", big.NewInt(5_000))

	commitment := shield.Commitment(big.NewInt(7), big.NewInt(9))
	resp := env.call(t, "shield_deposit", shieldDepositParams{
		From:       user.String(),
		Asset:      "DAI",
		Amount:     "1000",
		Commitment: "0x" + commitment.Text(16),
	})
	if resp.Error != nil {
		t.Fatalf("deposit: %+v", resp.Error)
	}
	var deposit shieldDepositResult
	roundtripResult(t, resp.Result, &deposit)

	nh := shield.NullifierHash(big.NewInt(9))
	withdraw := shieldWithdrawParams{
		Asset:         "DAI",
		Proof:         "0x",
		Root:          deposit.Root,
		NullifierHash: "0x" + nh.Text(16),
		Recipient:     testAddress(0x02).String(),
	}

	withdraw.Amount = ""
	resp = env.call(t, "shield_withdraw", withdraw)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for missing amount, got %+v", resp.Error)
	}

	withdraw.Amount = "999"
	resp = env.call(t, "shield_withdraw", withdraw)
	if resp.Error == nil || resp.Error.Code != codeRejected {
		t.Fatalf("expected rejection for wrong amount, got %+v", resp.Error)
	}

	withdraw.Amount = "1000"
	resp = env.call(t, "shield_withdraw", withdraw)
	if resp.Error != nil {
		t.Fatalf("withdraw: %+v", resp.Error)
	}
	resp = env.call(t, "shield_isSpent", shieldQueryParams{Asset: "DAI", NullifierHash: "0x" + nh.Text(16)})
	if spent, ok := resp.Result.(bool); !ok || !spent {
		t.Fatalf("nullifier not spent after withdrawal: %v", resp.Result)
	}
}

func TestModuleErrorRouting(t *testing.T) {
	rec := httptest.NewRecorder()
	writeModuleError(rec, 1, fmt.Errorf("repay: %w", lending.ErrOverRepayment))
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeRejected {
		t.Fatalf("domain rejection misrouted: status=%d error=%+v", rec.Code, resp.Error)
	}

	rec = httptest.NewRecorder()
	writeModuleError(rec, 1, errors.New("leveldb: closed"))
	resp = RPCResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode server error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("internal failure misrouted: status=%d error=%+v", rec.Code, resp.Error)
	}
}

func mustMint(t *testing.T, env *testEnv, addr crypto.Address, asset string, whole int64) {
	t.Helper()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	mustMintUnits(t, env, addr, asset, new(big.Int).Mul(big.NewInt(whole), unit))
}

func mustMintUnits(t *testing.T, env *testEnv, addr crypto.Address, asset string, amount *big.Int) {
	t.Helper()
	env.engine.SetTimestamp(1)
	if err := env.engine.Mint(addr, asset, amount); err != nil {
		t.Fatalf("mint %s: %v", asset, err)
	}
}

func roundtripResult(t *testing.T, result any, out any) {
	t.Helper()
	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		t.Fatalf("decode result into %T: %v", out, err)
	}
}
