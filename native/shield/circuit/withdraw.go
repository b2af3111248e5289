// Package circuit defines the zk-circuit proving membership of a shielded
// deposit. A withdrawal proves knowledge of (secret, nullifier) such that
// MiMC(secret, nullifier) is a leaf of the commitment tree under the public
// root, and that the public nullifier hash is MiMC(nullifier).
package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TreeDepth fixes the commitment tree height. 2^20 deposits per pool.
const TreeDepth = 20

type WithdrawCircuit struct {
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`

	Secret    frontend.Variable
	Nullifier frontend.Variable
	// Path carries the sibling at each level; PathBits the position of the
	// computed node, 1 when it is the right child.
	Path     [TreeDepth]frontend.Variable
	PathBits [TreeDepth]frontend.Variable
}

func (c *WithdrawCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.Secret, c.Nullifier)
	node := h.Sum()

	h.Reset()
	h.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierHash, h.Sum())

	for i := 0; i < TreeDepth; i++ {
		api.AssertIsBoolean(c.PathBits[i])
		left := api.Select(c.PathBits[i], c.Path[i], node)
		right := api.Select(c.PathBits[i], node, c.Path[i])
		h.Reset()
		h.Write(left, right)
		node = h.Sum()
	}
	api.AssertIsEqual(c.Root, node)

	// Square the recipient so the constraint survives compilation and the
	// proof stays bound to the payout address.
	api.Mul(c.Recipient, c.Recipient)
	return nil
}
