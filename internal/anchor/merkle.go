package anchor

import "bytes"

// MerkleTree is the balanced binary hash tree over one batch of linked
// record hashes. Layers[0] is the leaf layer; the last layer holds the
// single root. Trees are transient: once every proof for the batch has
// been extracted and stored, the tree can be discarded.
type MerkleTree struct {
	Leaves []Hash256
	Layers [][]Hash256
	Root   Hash256
}

// MerkleProof is the sibling path from one leaf to the root, in
// leaf-to-root order. A proof is self-contained: verification needs no
// access to the original tree or the store.
type MerkleProof struct {
	Leaf     Hash256   `json:"leaf"`
	Siblings []Hash256 `json:"proof"`
	Root     Hash256   `json:"root"`
	Index    int       `json:"index"`
}

// hashPair combines two digests after ordering them lexicographically, so
// hashPair(a, b) == hashPair(b, a). Proof paths stay position-based; the
// canonical ordering only removes left/right ambiguity from the digest.
func hashPair(a, b Hash256) Hash256 {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return HashBytes(buf)
}

// BuildTree builds the Merkle tree over a non-empty ordered batch of leaf
// hashes. Adjacent pairs are hashed together layer by layer until one
// digest remains. When a layer has odd length, the final unpaired node is
// promoted unchanged to the next layer — never duplicated. Duplicating
// would produce different roots and proofs; the promote policy is part of
// the stored-proof contract and must not change.
func BuildTree(leaves []Hash256) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyBatch
	}

	layer := make([]Hash256, len(leaves))
	copy(layer, leaves)

	t := &MerkleTree{Leaves: layer}
	t.Layers = append(t.Layers, layer)

	for len(layer) > 1 {
		next := make([]Hash256, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, hashPair(layer[i], layer[i+1]))
			} else {
				next = append(next, layer[i]) // promote the odd tail
			}
		}
		layer = next
		t.Layers = append(t.Layers, layer)
	}

	t.Root = layer[0]
	return t, nil
}

// Proof generates the inclusion proof for the leaf at index. At each
// layer the sibling needed to recompute the parent is recorded; a node
// that was promoted unchanged has no sibling and contributes nothing.
func (t *MerkleTree) Proof(index int) (*MerkleProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, ErrIndexOutOfRange
	}

	p := &MerkleProof{
		Leaf:  t.Leaves[index],
		Root:  t.Root,
		Index: index,
	}

	idx := index
	for _, layer := range t.Layers[:len(t.Layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			p.Siblings = append(p.Siblings, layer[sibling])
		}
		idx /= 2
	}
	return p, nil
}

// VerifyProof recomputes the path from proof.Leaf through each sibling in
// order, halving the index at each step to keep the positional walk, and
// reports whether the result equals proof.Root. It is pure and
// stateless: this is the externally-facing verification contract, usable
// without the tree or the store.
func VerifyProof(p *MerkleProof) bool {
	if p == nil || p.Index < 0 {
		return false
	}
	cur := p.Leaf
	idx := p.Index
	for _, sib := range p.Siblings {
		if idx%2 == 0 {
			cur = hashPair(cur, sib)
		} else {
			cur = hashPair(sib, cur)
		}
		idx /= 2
	}
	return cur == p.Root
}
