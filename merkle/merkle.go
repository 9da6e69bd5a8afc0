package merkle

import (
	"crypto/sha256"
	"errors"
)

const (
	leafPrefix = "timesheet:component:leaf:v1"
	nodePrefix = "timesheet:component:node:v1"
)

var (
	ErrNoLeaves     = errors.New("merkle tree requires at least one leaf")
	ErrLeafOutRange = errors.New("leaf index out of range")
)

// Side tells on which side of the path the sibling hash sits.
type Side byte

const (
	Left  Side = 'L'
	Right Side = 'R'
)

// Step is a single level of the inclusion proof.
type Step struct {
	Side    Side     `json:"side"    msgpack:"side"`
	Sibling [32]byte `json:"sibling" msgpack:"sibling"`
}

// Proof proves that a leaf is part of the tree with a given root.
type Proof struct {
	Index int    `json:"index" msgpack:"index"`
	Steps []Step `json:"steps" msgpack:"steps"`
}

// LeafHash hashes the component data salted with its nonce.
func LeafHash(nonce [32]byte, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(leafPrefix))
	h.Write([]byte{0})
	h.Write(nonce[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(nodePrefix))
	h.Write([]byte{0})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Root computes the tree root. Odd levels duplicate the last node.
func Root(leaves [][32]byte) ([32]byte, error) {
	if len(leaves) == 0 {
		return [32]byte{}, ErrNoLeaves
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// Prove builds the inclusion proof of the leaf at index.
func Prove(leaves [][32]byte, index int) (Proof, error) {
	if len(leaves) == 0 {
		return Proof{}, ErrNoLeaves
	}
	if index < 0 || index >= len(leaves) {
		return Proof{}, ErrLeafOutRange
	}
	p := Proof{Index: index}
	level := leaves
	pos := index
	for len(level) > 1 {
		padded := pad(level)
		if pos%2 == 0 {
			p.Steps = append(p.Steps, Step{Side: Right, Sibling: padded[pos+1]})
		} else {
			p.Steps = append(p.Steps, Step{Side: Left, Sibling: padded[pos-1]})
		}
		level = nextLevel(level)
		pos /= 2
	}
	return p, nil
}

// Verify recomputes the root from the leaf and the proof path.
func (p Proof) Verify(leaf, root [32]byte) bool {
	current := leaf
	for _, s := range p.Steps {
		switch s.Side {
		case Left:
			current = nodeHash(s.Sibling, current)
		case Right:
			current = nodeHash(current, s.Sibling)
		default:
			return false
		}
	}
	return current == root
}

func pad(level [][32]byte) [][32]byte {
	if len(level)%2 == 0 {
		return level
	}
	padded := make([][32]byte, len(level), len(level)+1)
	copy(padded, level)
	return append(padded, level[len(level)-1])
}

func nextLevel(level [][32]byte) [][32]byte {
	padded := pad(level)
	next := make([][32]byte, len(padded)/2)
	for i := 0; i < len(padded); i += 2 {
		next[i/2] = nodeHash(padded[i], padded[i+1])
	}
	return next
}
