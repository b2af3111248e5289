package shield

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// hashFields computes the MiMC hash of the inputs over the BN254 scalar
// field, matching the in-circuit hasher byte for byte.
func hashFields(inputs ...*big.Int) *big.Int {
	h := mimc.NewMiMC()
	for _, in := range inputs {
		var el fr.Element
		el.SetBigInt(in)
		b := el.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Commitment derives the tree leaf for a note.
func Commitment(secret, nullifier *big.Int) *big.Int {
	return hashFields(secret, nullifier)
}

// NullifierHash derives the public spend marker for a note.
func NullifierHash(nullifier *big.Int) *big.Int {
	return hashFields(nullifier)
}
