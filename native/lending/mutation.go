package lending

import (
	"miniaave/core/types"
	"miniaave/crypto"
)

// AccountWrite pairs an address with its post-operation account record.
type AccountWrite struct {
	Address crypto.Address
	Account *types.Account
}

// PositionRef identifies one (user, asset) position slot.
type PositionRef struct {
	Address crypto.Address
	Asset   string
}

// Mutation is the complete write set of a single engine operation. The state
// layer commits it in one database batch, so a failed commit leaves no
// partial balances behind.
type Mutation struct {
	Accounts  []AccountWrite
	Positions []*AccountPosition
	Cleared   []PositionRef
	Reserves  []*Reserve
}

func (m *Mutation) putAccount(addr crypto.Address, account *types.Account) {
	m.Accounts = append(m.Accounts, AccountWrite{Address: addr, Account: account})
}

// putPosition stages the position, routing it to the cleared set when both
// balances returned to zero so the record and its index entry are removed.
func (m *Mutation) putPosition(position *AccountPosition) {
	if position.IsEmpty() {
		m.clearPosition(position.Address, position.Asset)
		return
	}
	m.Positions = append(m.Positions, position)
}

func (m *Mutation) clearPosition(addr crypto.Address, asset string) {
	m.Cleared = append(m.Cleared, PositionRef{Address: addr, Asset: asset})
}

func (m *Mutation) putReserve(reserve *Reserve) {
	m.Reserves = append(m.Reserves, reserve)
}
