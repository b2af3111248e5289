package lending

import "errors"

var (
	ErrUnknownAsset           = errors.New("lending: unknown asset")
	ErrAssetAlreadyRegistered = errors.New("lending: asset already registered")
	ErrInvalidRiskParameters  = errors.New("lending: invalid risk parameters")
	ErrZeroAmount             = errors.New("lending: amount must be positive")
	ErrInsufficientBalance    = errors.New("lending: insufficient balance")
	ErrInsufficientHealth     = errors.New("lending: withdrawal would leave health factor below 1")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral for borrow")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrOverRepayment          = errors.New("lending: repayment exceeds outstanding debt")
	ErrHealthyPosition        = errors.New("lending: borrower not eligible for liquidation")

	errNilState = errors.New("lending engine: state not configured")
)
