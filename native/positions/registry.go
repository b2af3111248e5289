// Package positions tracks the non-fungible position tokens minted against
// borrowing accounts. A token represents the whole collateral/debt bundle of
// its owner; transferring it hands the bundle to the new holder.
package positions

import (
	"errors"
	"sync"

	"miniaave/crypto"
)

var (
	ErrUnknownToken  = errors.New("positions: unknown token")
	ErrNotOwner      = errors.New("positions: sender does not own token")
	ErrAlreadyHolder = errors.New("positions: recipient already holds a position token")

	errNilState = errors.New("positions registry: state not configured")
)

// Token is one minted position token.
type Token struct {
	ID       uint64
	Owner    crypto.Address
	MintedAt uint64
}

// registryState persists tokens and the owner index. Lookups return
// (nil, nil) / (0, false, nil) when absent.
type registryState interface {
	GetToken(id uint64) (*Token, error)
	PutToken(token *Token) error
	DeleteToken(id uint64) error
	TokenByOwner(owner crypto.Address) (uint64, bool, error)
	NextTokenID() (uint64, error)
}

// PositionMover re-keys ledger positions when a token changes hands. The
// lending engine implements it.
type PositionMover interface {
	MovePositions(from, to crypto.Address) error
}

// Registry issues, transfers, and burns position tokens.
type Registry struct {
	mu        sync.Mutex
	state     registryState
	mover     PositionMover
	timestamp uint64
}

func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// SetMover wires the ledger hook invoked on transfer.
func (r *Registry) SetMover(mover PositionMover) { r.mover = mover }

// SetTimestamp records the unix time stamped onto newly minted tokens.
func (r *Registry) SetTimestamp(ts uint64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.timestamp = ts
	r.mu.Unlock()
}

// MintOnFirstBorrow mints a position token for the owner, or returns the
// existing token's ID when one is already outstanding. Repeated calls are
// idempotent so the engine can invoke it on every first-borrow transition
// without tracking mint history.
func (r *Registry) MintOnFirstBorrow(owner crypto.Address) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok, err := r.state.TokenByOwner(owner); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	id, err := r.state.NextTokenID()
	if err != nil {
		return 0, err
	}
	token := &Token{ID: id, Owner: owner, MintedAt: r.timestamp}
	if err := r.state.PutToken(token); err != nil {
		return 0, err
	}
	return id, nil
}

// Transfer moves the token, and with it every ledger position of the sender,
// to the recipient. The recipient must not already hold a token: merging two
// bundles under one token would lose the provenance of the second.
func (r *Registry) Transfer(from, to crypto.Address, id uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.state.GetToken(id)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrUnknownToken
	}
	if !token.Owner.Equal(from) {
		return ErrNotOwner
	}
	if _, ok, err := r.state.TokenByOwner(to); err != nil {
		return err
	} else if ok {
		return ErrAlreadyHolder
	}

	if r.mover != nil {
		if err := r.mover.MovePositions(from, to); err != nil {
			return err
		}
	}
	token.Owner = to
	return r.state.PutToken(token)
}

// Settle burns the owner's token. It is a no-op when the owner holds none,
// so the engine can call it after every position-closing operation.
func (r *Registry) Settle(owner crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok, err := r.state.TokenByOwner(owner)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return r.state.DeleteToken(id)
}

// OwnerOf reports the current holder of a token.
func (r *Registry) OwnerOf(id uint64) (crypto.Address, error) {
	if r == nil || r.state == nil {
		return crypto.Address{}, errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.state.GetToken(id)
	if err != nil {
		return crypto.Address{}, err
	}
	if token == nil {
		return crypto.Address{}, ErrUnknownToken
	}
	return token.Owner, nil
}

// TokenOf reports the token held by the owner, if any.
func (r *Registry) TokenOf(owner crypto.Address) (uint64, bool, error) {
	if r == nil || r.state == nil {
		return 0, false, errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.TokenByOwner(owner)
}
