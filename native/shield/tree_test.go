package shield

import (
	"errors"
	"math/big"
	"testing"

	"miniaave/native/shield/circuit"
)

func TestEmptyTreeRoot(t *testing.T) {
	a := NewMerkleTree()
	b := NewMerkleTree()
	if a.Root().Cmp(b.Root()) != 0 {
		t.Fatalf("empty roots differ")
	}
	if a.Size() != 0 {
		t.Fatalf("empty tree has size %d", a.Size())
	}
}

func TestInsertChangesRoot(t *testing.T) {
	tree := NewMerkleTree()
	before := tree.Root()
	index, err := tree.Insert(big.NewInt(42))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if index != 0 {
		t.Fatalf("expected first leaf at index 0, got %d", index)
	}
	if tree.Root().Cmp(before) == 0 {
		t.Fatalf("root unchanged after insert")
	}

	index, err = tree.Insert(big.NewInt(43))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if index != 1 {
		t.Fatalf("expected second leaf at index 1, got %d", index)
	}
}

func TestInsertDeterministic(t *testing.T) {
	a := NewMerkleTree()
	b := NewMerkleTree()
	for i := int64(1); i <= 5; i++ {
		if _, err := a.Insert(big.NewInt(i)); err != nil {
			t.Fatalf("insert a: %v", err)
		}
	}
	for i := int64(1); i <= 5; i++ {
		if _, err := b.Insert(big.NewInt(i)); err != nil {
			t.Fatalf("insert b: %v", err)
		}
	}
	if a.Root().Cmp(b.Root()) != 0 {
		t.Fatalf("same leaves produced different roots")
	}
}

// foldProof recomputes the root from a leaf and its sibling path the way the
// withdraw circuit does.
func foldProof(leaf *big.Int, path [circuit.TreeDepth]*big.Int, bits [circuit.TreeDepth]uint8) *big.Int {
	node := new(big.Int).Set(leaf)
	for i := 0; i < circuit.TreeDepth; i++ {
		if bits[i] == 1 {
			node = hashFields(path[i], node)
		} else {
			node = hashFields(node, path[i])
		}
	}
	return node
}

func TestProofFoldsToRoot(t *testing.T) {
	tree := NewMerkleTree()
	leaves := []*big.Int{big.NewInt(7), big.NewInt(11), big.NewInt(13), big.NewInt(17), big.NewInt(19)}
	for _, leaf := range leaves {
		if _, err := tree.Insert(leaf); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	root := tree.Root()
	for i, leaf := range leaves {
		path, bits, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		if got := foldProof(leaf, path, bits); got.Cmp(root) != 0 {
			t.Fatalf("proof for leaf %d does not fold to root", i)
		}
	}
}

func TestProofOutOfRange(t *testing.T) {
	tree := NewMerkleTree()
	if _, _, err := tree.Proof(0); !errors.Is(err, ErrUnknownLeaf) {
		t.Fatalf("expected ErrUnknownLeaf, got %v", err)
	}
	if _, err := tree.Insert(big.NewInt(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := tree.Proof(1); !errors.Is(err, ErrUnknownLeaf) {
		t.Fatalf("expected ErrUnknownLeaf past end, got %v", err)
	}
	if _, _, err := tree.Proof(-1); !errors.Is(err, ErrUnknownLeaf) {
		t.Fatalf("expected ErrUnknownLeaf for negative index, got %v", err)
	}
}

func TestProofStaysValidAfterLaterInserts(t *testing.T) {
	tree := NewMerkleTree()
	if _, err := tree.Insert(big.NewInt(7)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tree.Insert(big.NewInt(11)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// The old proof folds to the old root, not the new one. Withdrawals
	// rely on the recent-root window for exactly this case.
	oldPath, oldBits, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	oldRoot := tree.Root()
	if _, err := tree.Insert(big.NewInt(13)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := foldProof(big.NewInt(7), oldPath, oldBits); got.Cmp(oldRoot) != 0 {
		t.Fatalf("stale proof no longer folds to its root")
	}
	freshPath, freshBits, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("fresh proof: %v", err)
	}
	if got := foldProof(big.NewInt(7), freshPath, freshBits); got.Cmp(tree.Root()) != 0 {
		t.Fatalf("fresh proof does not fold to current root")
	}
}

func TestCommitmentMatchesCircuitLayout(t *testing.T) {
	secret := big.NewInt(123456789)
	nullifier := big.NewInt(987654321)
	commitment := Commitment(secret, nullifier)
	if commitment.Sign() == 0 {
		t.Fatalf("zero commitment")
	}
	if Commitment(secret, nullifier).Cmp(commitment) != 0 {
		t.Fatalf("commitment not deterministic")
	}
	if Commitment(nullifier, secret).Cmp(commitment) == 0 {
		t.Fatalf("commitment ignores input order")
	}
	if NullifierHash(nullifier).Cmp(NullifierHash(nullifier)) != 0 {
		t.Fatalf("nullifier hash not deterministic")
	}
}
