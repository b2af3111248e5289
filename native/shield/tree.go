package shield

import (
	"errors"
	"math/big"

	"miniaave/native/shield/circuit"
)

var (
	ErrTreeFull    = errors.New("shield: commitment tree is full")
	ErrUnknownLeaf = errors.New("shield: leaf index out of range")
	ErrZeroElement = errors.New("shield: tree element must be non-nil")
)

// MerkleTree is the append-only MiMC commitment accumulator. Unfilled slots
// hash as chained zero values, so the root is defined at every size. Nodes of
// every level are cached; an insert touches one node per level.
type MerkleTree struct {
	depth  int
	zeros  []*big.Int
	levels [][]*big.Int
}

// NewMerkleTree builds an empty tree of the circuit's fixed depth.
func NewMerkleTree() *MerkleTree {
	depth := circuit.TreeDepth
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := 1; i <= depth; i++ {
		zeros[i] = hashFields(zeros[i-1], zeros[i-1])
	}
	levels := make([][]*big.Int, depth+1)
	return &MerkleTree{depth: depth, zeros: zeros, levels: levels}
}

// Size reports the number of inserted leaves.
func (t *MerkleTree) Size() int {
	return len(t.levels[0])
}

// Root returns the current accumulator root.
func (t *MerkleTree) Root() *big.Int {
	if len(t.levels[t.depth]) == 0 {
		return new(big.Int).Set(t.zeros[t.depth])
	}
	return new(big.Int).Set(t.levels[t.depth][0])
}

// Insert appends a leaf and recomputes the path to the root, returning the
// leaf index.
func (t *MerkleTree) Insert(leaf *big.Int) (int, error) {
	if leaf == nil {
		return 0, ErrZeroElement
	}
	index := len(t.levels[0])
	if index >= 1<<t.depth {
		return 0, ErrTreeFull
	}
	t.levels[0] = append(t.levels[0], new(big.Int).Set(leaf))

	pos := index
	for level := 0; level < t.depth; level++ {
		parent := pos / 2
		left := t.node(level, parent*2)
		right := t.node(level, parent*2+1)
		digest := hashFields(left, right)
		if parent < len(t.levels[level+1]) {
			t.levels[level+1][parent] = digest
		} else {
			t.levels[level+1] = append(t.levels[level+1], digest)
		}
		pos = parent
	}
	return index, nil
}

// Proof produces the sibling path and direction bits for the leaf, in the
// layout the withdraw circuit consumes.
func (t *MerkleTree) Proof(index int) ([circuit.TreeDepth]*big.Int, [circuit.TreeDepth]uint8, error) {
	var path [circuit.TreeDepth]*big.Int
	var bits [circuit.TreeDepth]uint8
	if index < 0 || index >= len(t.levels[0]) {
		return path, bits, ErrUnknownLeaf
	}
	pos := index
	for level := 0; level < t.depth; level++ {
		sibling := pos ^ 1
		path[level] = t.node(level, sibling)
		bits[level] = uint8(pos & 1)
		pos /= 2
	}
	return path, bits, nil
}

// node returns the stored node or the zero value for the level.
func (t *MerkleTree) node(level, index int) *big.Int {
	if index < len(t.levels[level]) {
		return t.levels[level][index]
	}
	return t.zeros[level]
}

// Leaves returns a copy of the inserted commitments in insertion order.
func (t *MerkleTree) Leaves() []*big.Int {
	out := make([]*big.Int, len(t.levels[0]))
	for i, leaf := range t.levels[0] {
		out[i] = new(big.Int).Set(leaf)
	}
	return out
}
