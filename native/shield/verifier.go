package shield

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"miniaave/crypto"
	"miniaave/native/shield/circuit"
)

var ErrInvalidProof = errors.New("shield: proof verification failed")

// Verifier checks a withdrawal proof against its public inputs.
type Verifier interface {
	Verify(proof []byte, root, nullifierHash *big.Int, recipient crypto.Address) error
}

// Groth16Verifier verifies serialized Groth16 proofs for the withdraw
// circuit under a fixed verifying key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

func (v *Groth16Verifier) Verify(proofBytes []byte, root, nullifierHash *big.Int, recipient crypto.Address) error {
	if v == nil || v.vk == nil {
		return errors.New("shield: verifying key not configured")
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("shield: decode proof: %w", err)
	}
	assignment := &circuit.WithdrawCircuit{
		Root:          root,
		NullifierHash: nullifierHash,
		Recipient:     RecipientField(recipient),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("shield: build public witness: %w", err)
	}
	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return ErrInvalidProof
	}
	return nil
}

// RecipientField encodes a protocol address as the field element bound into
// withdrawal proofs. 20 bytes always fit below the BN254 modulus.
func RecipientField(addr crypto.Address) *big.Int {
	return new(big.Int).SetBytes(addr.Bytes())
}
