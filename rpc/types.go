package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"miniaave/crypto"
	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/native/pricing"
	"miniaave/native/shield"
)

// decodeParams unpacks the single object parameter every mutating method
// takes.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object, got %d", len(req.Params))
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount accepts a positive base-10 integer string.
func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s: must be positive", field)
	}
	return amount, nil
}

// parseField accepts a field element as 0x-prefixed hex or base-10 decimal.
func parseField(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
		base = 16
	}
	parsed, ok := new(big.Int).SetString(trimmed, base)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid field element %q", field, value)
	}
	return parsed, nil
}

func encodeField(v *big.Int) string {
	return "0x" + v.Text(16)
}

// rejections enumerates the domain sentinels a caller can trigger with a
// well-formed but unacceptable request.
var rejections = []error{
	lending.ErrUnknownAsset,
	lending.ErrAssetAlreadyRegistered,
	lending.ErrInvalidRiskParameters,
	lending.ErrZeroAmount,
	lending.ErrInsufficientBalance,
	lending.ErrInsufficientHealth,
	lending.ErrInsufficientCollateral,
	lending.ErrInsufficientLiquidity,
	lending.ErrOverRepayment,
	lending.ErrHealthyPosition,
	pricing.ErrUnknownAsset,
	pricing.ErrInvalidPrice,
	positions.ErrUnknownToken,
	positions.ErrNotOwner,
	positions.ErrAlreadyHolder,
	shield.ErrDenominationMismatch,
	shield.ErrDuplicateCommitment,
	shield.ErrUnknownRoot,
	shield.ErrNullifierAlreadySpent,
	shield.ErrInsufficientBalance,
	shield.ErrTreeFull,
	shield.ErrUnknownLeaf,
	shield.ErrZeroElement,
	shield.ErrInvalidProof,
}

// writeModuleError maps a module failure onto the JSON-RPC error surface.
// Domain rejections keep HTTP 400 with a distinct code; anything else is an
// internal failure reported as a server error.
func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	for _, sentinel := range rejections {
		if errors.Is(err, sentinel) {
			writeError(w, http.StatusBadRequest, id, codeRejected, err.Error(), nil)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
}
