package state

import (
	"errors"
	"math/big"

	"miniaave/core/types"
	"miniaave/crypto"
)

var errCorruptCommitment = errors.New("state: corrupt commitment record")

const (
	keyShieldCommitments = "shield/commitments/"
	keyShieldNullifier   = "shield/nullifier/"
)

// ShieldState scopes the store to one shielded pool. Commitments are kept as
// a single ordered list per asset; nullifiers as individual marker keys.
type ShieldState struct {
	store *Store
	asset string
}

func (s *Store) ShieldState(asset string) *ShieldState {
	return &ShieldState{store: s, asset: asset}
}

func (s *ShieldState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return s.store.GetAccount(addr)
}

// ApplyDeposit commits both account balances and the appended commitment in
// one batch.
func (s *ShieldState) ApplyDeposit(depositor crypto.Address, depositorAcc *types.Account, escrow crypto.Address, escrowAcc *types.Account, commitment *big.Int) error {
	commitments, err := s.ListCommitments()
	if err != nil {
		return err
	}
	encoded := make([]string, 0, len(commitments)+1)
	for _, c := range commitments {
		encoded = append(encoded, c.Text(16))
	}
	encoded = append(encoded, commitment.Text(16))

	batch := s.store.db.NewBatch()
	if err := stageAccount(batch, depositor, depositorAcc); err != nil {
		return err
	}
	if err := stageAccount(batch, escrow, escrowAcc); err != nil {
		return err
	}
	if err := putJSONBatch(batch, keyShieldCommitments+s.asset, encoded); err != nil {
		return err
	}
	return s.store.db.Commit(batch)
}

// ApplyWithdrawal commits both account balances and the spent nullifier in
// one batch, so a withdrawal can never burn a nullifier without releasing
// the funds.
func (s *ShieldState) ApplyWithdrawal(escrow crypto.Address, escrowAcc *types.Account, recipient crypto.Address, recipientAcc *types.Account, nullifierHash *big.Int) error {
	batch := s.store.db.NewBatch()
	if err := stageAccount(batch, escrow, escrowAcc); err != nil {
		return err
	}
	if err := stageAccount(batch, recipient, recipientAcc); err != nil {
		return err
	}
	batch.Put([]byte(s.nullifierKey(nullifierHash)), []byte{1})
	return s.store.db.Commit(batch)
}

func (s *ShieldState) ListCommitments() ([]*big.Int, error) {
	var encoded []string
	if _, err := s.store.getJSON(keyShieldCommitments+s.asset, &encoded); err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(encoded))
	for _, hexStr := range encoded {
		c, ok := new(big.Int).SetString(hexStr, 16)
		if !ok {
			return nil, errCorruptCommitment
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ShieldState) nullifierKey(nullifierHash *big.Int) string {
	return keyShieldNullifier + s.asset + "/" + nullifierHash.Text(16)
}

func (s *ShieldState) HasNullifier(nullifierHash *big.Int) (bool, error) {
	return s.store.db.Has([]byte(s.nullifierKey(nullifierHash)))
}
