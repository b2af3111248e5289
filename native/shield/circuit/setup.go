package circuit

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Compile builds the R1CS for the withdraw circuit over BN254.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit WithdrawCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("compile withdraw circuit: %w", err)
	}
	return ccs, nil
}

// Setup runs the Groth16 trusted setup for the compiled circuit.
func Setup(ccs constraint.ConstraintSystem) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return pk, vk, nil
}

// Assignment is the full witness for one withdrawal.
type Assignment struct {
	Root          *big.Int
	NullifierHash *big.Int
	Recipient     *big.Int
	Secret        *big.Int
	Nullifier     *big.Int
	Path          [TreeDepth]*big.Int
	PathBits      [TreeDepth]uint8
}

func (a *Assignment) circuit() *WithdrawCircuit {
	w := &WithdrawCircuit{
		Root:          a.Root,
		NullifierHash: a.NullifierHash,
		Recipient:     a.Recipient,
		Secret:        a.Secret,
		Nullifier:     a.Nullifier,
	}
	for i := 0; i < TreeDepth; i++ {
		w.Path[i] = a.Path[i]
		w.PathBits[i] = a.PathBits[i]
	}
	return w
}

// Prove generates a serialized Groth16 proof for the assignment.
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, a *Assignment) ([]byte, error) {
	witness, err := frontend.NewWitness(a.circuit(), ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteKeys persists the setup artifacts so a restarted node verifies against
// the same circuit.
func WriteKeys(pkPath, vkPath string, pk groth16.ProvingKey, vk groth16.VerifyingKey) error {
	pkFile, err := os.Create(pkPath)
	if err != nil {
		return fmt.Errorf("create proving key file: %w", err)
	}
	defer pkFile.Close()
	if _, err := pk.WriteTo(pkFile); err != nil {
		return fmt.Errorf("write proving key: %w", err)
	}
	vkFile, err := os.Create(vkPath)
	if err != nil {
		return fmt.Errorf("create verifying key file: %w", err)
	}
	defer vkFile.Close()
	if _, err := vk.WriteTo(vkFile); err != nil {
		return fmt.Errorf("write verifying key: %w", err)
	}
	return nil
}

// ReadKeys loads previously persisted setup artifacts.
func ReadKeys(pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pkFile, err := os.Open(pkPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open proving key: %w", err)
	}
	defer pkFile.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(pkFile); err != nil {
		return nil, nil, fmt.Errorf("read proving key: %w", err)
	}
	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open verifying key: %w", err)
	}
	defer vkFile.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return nil, nil, fmt.Errorf("read verifying key: %w", err)
	}
	return pk, vk, nil
}
