// Package shield implements the fixed-denomination shielded pool. A deposit
// locks the pool denomination against an opaque MiMC commitment; a
// withdrawal proves membership of some past commitment in zero knowledge and
// is bound to a one-time nullifier, severing the on-chain link between the
// two legs.
package shield

import (
	"errors"
	"math/big"
	"sync"

	"miniaave/core/types"
	"miniaave/crypto"
)

// recentRootWindow is how many historical roots remain withdrawable. Proofs
// built against an older snapshot than that must be regenerated.
const recentRootWindow = 32

var (
	ErrDenominationMismatch  = errors.New("shield: amount must equal the pool denomination")
	ErrDuplicateCommitment   = errors.New("shield: commitment already deposited")
	ErrUnknownRoot           = errors.New("shield: root is not a recent tree root")
	ErrNullifierAlreadySpent = errors.New("shield: nullifier already spent")
	ErrInsufficientBalance   = errors.New("shield: insufficient balance for deposit")

	errNilState = errors.New("shield pool: state not configured")
)

// poolState persists the pool's funds, commitments, and spent nullifiers.
// Account lookups return (nil, nil) when absent. ApplyDeposit and
// ApplyWithdrawal each commit their whole write set atomically: a deposit's
// fund movement lands together with its commitment, and a withdrawal's fund
// movement lands together with the nullifier that spends it.
type poolState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	ListCommitments() ([]*big.Int, error)
	HasNullifier(nullifierHash *big.Int) (bool, error)
	ApplyDeposit(depositor crypto.Address, depositorAcc *types.Account, escrow crypto.Address, escrowAcc *types.Account, commitment *big.Int) error
	ApplyWithdrawal(escrow crypto.Address, escrowAcc *types.Account, recipient crypto.Address, recipientAcc *types.Account, nullifierHash *big.Int) error
}

// Pool is one shielded pool instance: a single asset at a single
// denomination, backed by the module's escrow account.
type Pool struct {
	mu            sync.Mutex
	state         poolState
	verifier      Verifier
	tree          *MerkleTree
	roots         []*big.Int
	asset         string
	denomination  *big.Int
	escrowAddress crypto.Address
}

// NewPool restores a pool from persisted commitments. Only the rebuilt
// current root is withdrawable after a restart; the recent-root window
// refills as deposits arrive.
func NewPool(state poolState, verifier Verifier, asset string, denomination *big.Int) (*Pool, error) {
	if state == nil {
		return nil, errNilState
	}
	if denomination == nil || denomination.Sign() <= 0 {
		return nil, ErrDenominationMismatch
	}
	tree := NewMerkleTree()
	commitments, err := state.ListCommitments()
	if err != nil {
		return nil, err
	}
	for _, commitment := range commitments {
		if _, err := tree.Insert(commitment); err != nil {
			return nil, err
		}
	}
	pool := &Pool{
		state:         state,
		verifier:      verifier,
		tree:          tree,
		asset:         asset,
		denomination:  new(big.Int).Set(denomination),
		escrowAddress: crypto.ModuleAddress("shield/" + asset),
	}
	pool.recordRoot(tree.Root())
	return pool, nil
}

// Asset reports the pool's underlying asset symbol.
func (p *Pool) Asset() string { return p.asset }

// Denomination reports the fixed deposit size.
func (p *Pool) Denomination() *big.Int { return new(big.Int).Set(p.denomination) }

// EscrowAddress reports the module account holding the pooled funds.
func (p *Pool) EscrowAddress() crypto.Address { return p.escrowAddress }

// Deposit locks amount (which must equal the denomination) from the sender
// against the commitment and returns the new leaf index.
func (p *Pool) Deposit(from crypto.Address, commitment, amount *big.Int) (int, error) {
	if p == nil || p.state == nil {
		return 0, errNilState
	}
	if commitment == nil {
		return 0, ErrZeroElement
	}
	if amount == nil || amount.Cmp(p.denomination) != 0 {
		return 0, ErrDenominationMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tree.Size() >= 1<<p.tree.depth {
		return 0, ErrTreeFull
	}
	for _, leaf := range p.tree.levels[0] {
		if leaf.Cmp(commitment) == 0 {
			return 0, ErrDuplicateCommitment
		}
	}
	account, err := p.loadAccount(from)
	if err != nil {
		return 0, err
	}
	if account.Balance(p.asset).Cmp(amount) < 0 {
		return 0, ErrInsufficientBalance
	}
	escrow, err := p.loadAccount(p.escrowAddress)
	if err != nil {
		return 0, err
	}

	account.SetBalance(p.asset, new(big.Int).Sub(account.Balance(p.asset), amount))
	escrow.SetBalance(p.asset, new(big.Int).Add(escrow.Balance(p.asset), amount))

	// Persist first: every pre-condition of the tree insert has been checked,
	// so a commit failure leaves both the database and the tree untouched.
	if err := p.state.ApplyDeposit(from, account, p.escrowAddress, escrow, commitment); err != nil {
		return 0, err
	}
	index, err := p.tree.Insert(commitment)
	if err != nil {
		return 0, err
	}
	p.recordRoot(p.tree.Root())
	return index, nil
}

// Withdraw releases one denomination to the recipient given a valid
// membership proof against a recent root and an unspent nullifier. The
// requested amount must equal the pool denomination; partial withdrawals do
// not exist. Proof verification runs outside the pool lock; the nullifier is
// re-checked and marked in the same critical section that moves the funds, so
// a racing double spend loses deterministically.
func (p *Pool) Withdraw(proof []byte, root, nullifierHash *big.Int, recipient crypto.Address, amount *big.Int) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if root == nil || nullifierHash == nil {
		return ErrZeroElement
	}
	if amount == nil || amount.Cmp(p.denomination) != 0 {
		return ErrDenominationMismatch
	}

	p.mu.Lock()
	if !p.isRecentRoot(root) {
		p.mu.Unlock()
		return ErrUnknownRoot
	}
	spent, err := p.state.HasNullifier(nullifierHash)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if spent {
		p.mu.Unlock()
		return ErrNullifierAlreadySpent
	}
	p.mu.Unlock()

	if p.verifier != nil {
		if err := p.verifier.Verify(proof, root, nullifierHash, recipient); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRecentRoot(root) {
		return ErrUnknownRoot
	}
	spent, err = p.state.HasNullifier(nullifierHash)
	if err != nil {
		return err
	}
	if spent {
		return ErrNullifierAlreadySpent
	}

	escrow, err := p.loadAccount(p.escrowAddress)
	if err != nil {
		return err
	}
	if escrow.Balance(p.asset).Cmp(p.denomination) < 0 {
		// Escrow can only run short through state corruption.
		return ErrInsufficientBalance
	}
	account, err := p.loadAccount(recipient)
	if err != nil {
		return err
	}

	escrow.SetBalance(p.asset, new(big.Int).Sub(escrow.Balance(p.asset), p.denomination))
	account.SetBalance(p.asset, new(big.Int).Add(account.Balance(p.asset), p.denomination))
	return p.state.ApplyWithdrawal(p.escrowAddress, escrow, recipient, account, nullifierHash)
}

// Root returns the current commitment tree root.
func (p *Pool) Root() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Root()
}

// Proof builds the membership witness material for the leaf at index.
// It exists for local note owners generating withdrawal proofs; the pool
// itself never needs it.
func (p *Pool) Proof(index int) ([]*big.Int, []uint8, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, bits, err := p.tree.Proof(index)
	if err != nil {
		return nil, nil, nil, err
	}
	return path[:], bits[:], p.tree.Root(), nil
}

// Size reports the number of deposits ever made into the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Size()
}

// IsSpent reports whether a nullifier hash has been consumed.
func (p *Pool) IsSpent(nullifierHash *big.Int) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	return p.state.HasNullifier(nullifierHash)
}

func (p *Pool) recordRoot(root *big.Int) {
	for _, known := range p.roots {
		if known.Cmp(root) == 0 {
			return
		}
	}
	p.roots = append(p.roots, new(big.Int).Set(root))
	if len(p.roots) > recentRootWindow {
		p.roots = p.roots[len(p.roots)-recentRootWindow:]
	}
}

func (p *Pool) isRecentRoot(root *big.Int) bool {
	for _, known := range p.roots {
		if known.Cmp(root) == 0 {
			return true
		}
	}
	return false
}

func (p *Pool) loadAccount(addr crypto.Address) (*types.Account, error) {
	account, err := p.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &types.Account{}
	}
	return account, nil
}
