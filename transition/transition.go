package transition

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bartossh/Timesheet/merkle"
	"github.com/bartossh/Timesheet/serializer"
)

var (
	ErrSignatureNotValidOrDataCorrupted = errors.New("signature not valid or data are corrupted")
	ErrMissingSignature                 = errors.New("missing required signature")
	ErrNotarySignatureMissing           = errors.New("notary signature missing")
	ErrNotaryIsEmpty                    = errors.New("notary cannot be empty")
	ErrOutputOutOfRange                 = errors.New("output index out of range")
	ErrRandomSaltFailure                = errors.New("random salt creation failure")
)

// Signer provides signing and address methods.
type Signer interface {
	Sign(message []byte) (digest [32]byte, signature []byte)
	Address() string
}

// Verifier provides signature verification method.
type Verifier interface {
	Verify(message, signature []byte, hash [32]byte, address string) error
}

// Group identifies the kind of component committed by a leaf.
type Group uint8

const (
	GroupInput Group = iota + 1
	GroupOutput
	GroupCommand
	GroupNotary
)

// Signature is a signature over the transition ID.
type Signature struct {
	By        string   `json:"by"        msgpack:"by"`
	Digest    [32]byte `json:"digest"    msgpack:"digest"`
	Signature []byte   `json:"signature" msgpack:"signature"`
}

// Transition replaces consumed states with produced ones under a single command.
// The ID commits to every component except the signatures.
type Transition struct {
	Inputs     []StateAndRef `json:"inputs"     msgpack:"inputs"`
	Outputs    []State       `json:"outputs"    msgpack:"outputs"`
	Command    Command       `json:"command"    msgpack:"command"`
	Notary     string        `json:"notary"     msgpack:"notary"`
	Salt       [32]byte      `json:"salt"       msgpack:"salt"`
	Signatures []Signature   `json:"signatures" msgpack:"signatures"`
}

// New creates unsigned transition with fresh random salt.
func New(inputs []StateAndRef, outputs []State, cmd Command, notary string) (Transition, error) {
	if notary == "" {
		return Transition{}, ErrNotaryIsEmpty
	}
	t := Transition{
		Inputs:     inputs,
		Outputs:    outputs,
		Command:    cmd,
		Notary:     notary,
		Signatures: []Signature{},
	}
	if _, err := io.ReadFull(rand.Reader, t.Salt[:]); err != nil {
		return Transition{}, errors.Join(ErrRandomSaltFailure, err)
	}
	return t, nil
}

type component struct {
	group Group
	index uint32
	data  []byte
}

func (t *Transition) components() ([]component, error) {
	cs := make([]component, 0, len(t.Inputs)+len(t.Outputs)+2)
	for i, in := range t.Inputs {
		raw, err := serializer.Marshal(in)
		if err != nil {
			return nil, err
		}
		cs = append(cs, component{GroupInput, uint32(i), raw})
	}
	for i, out := range t.Outputs {
		raw, err := serializer.Marshal(out)
		if err != nil {
			return nil, err
		}
		cs = append(cs, component{GroupOutput, uint32(i), raw})
	}
	raw, err := serializer.Marshal(t.Command)
	if err != nil {
		return nil, err
	}
	cs = append(cs, component{GroupCommand, 0, raw})
	cs = append(cs, component{GroupNotary, 0, []byte(t.Notary)})
	return cs, nil
}

func nonce(salt [32]byte, g Group, index uint32) [32]byte {
	buf := make([]byte, 0, 37)
	buf = append(buf, salt[:]...)
	buf = append(buf, byte(g))
	buf = binary.BigEndian.AppendUint32(buf, index)
	return sha256.Sum256(buf)
}

func leaf(n [32]byte, g Group, data []byte) [32]byte {
	return merkle.LeafHash(n, append([]byte{byte(g)}, data...))
}

func (t *Transition) leaves() ([]component, [][32]byte, error) {
	cs, err := t.components()
	if err != nil {
		return nil, nil, err
	}
	ls := make([][32]byte, 0, len(cs))
	for _, c := range cs {
		ls = append(ls, leaf(nonce(t.Salt, c.group, c.index), c.group, c.data))
	}
	return cs, ls, nil
}

// ID returns the Merkle root over the transition components.
func (t *Transition) ID() ([32]byte, error) {
	_, ls, err := t.leaves()
	if err != nil {
		return [32]byte{}, err
	}
	return merkle.Root(ls)
}

// Sign signs the transition ID, replacing previous signature of the same signer.
func (t *Transition) Sign(s Signer) (Signature, error) {
	id, err := t.ID()
	if err != nil {
		return Signature{}, err
	}
	digest, sig := s.Sign(id[:])
	signature := Signature{By: s.Address(), Digest: digest, Signature: sig}
	t.put(signature)
	return signature, nil
}

// AddSignature verifies the signature against the transition ID and adds it.
func (t *Transition) AddSignature(sig Signature, v Verifier) error {
	id, err := t.ID()
	if err != nil {
		return err
	}
	if err := v.Verify(id[:], sig.Signature, sig.Digest, sig.By); err != nil {
		return errors.Join(ErrSignatureNotValidOrDataCorrupted, err)
	}
	t.put(sig)
	return nil
}

func (t *Transition) put(sig Signature) {
	for i, s := range t.Signatures {
		if s.By == sig.By {
			t.Signatures[i] = sig
			return
		}
	}
	t.Signatures = append(t.Signatures, sig)
}

// SignedBy reports if there is a signature of the address.
func (t *Transition) SignedBy(address string) bool {
	for _, s := range t.Signatures {
		if s.By == address {
			return true
		}
	}
	return false
}

// RequiredSigners returns declared signers together with participants of every consumed and produced state.
// The notary is not included.
func (t *Transition) RequiredSigners() []string {
	set := make(map[string]struct{})
	for _, s := range t.Command.Signers {
		set[s] = struct{}{}
	}
	for _, in := range t.Inputs {
		for _, p := range in.State.Participants() {
			set[p] = struct{}{}
		}
	}
	for _, out := range t.Outputs {
		for _, p := range out.Participants() {
			set[p] = struct{}{}
		}
	}
	delete(set, "")
	required := make([]string, 0, len(set))
	for s := range set {
		required = append(required, s)
	}
	sort.Strings(required)
	return required
}

// VerifySignatures verifies every attached signature and checks that all required signers signed,
// except the addresses listed as allowed to be missing.
func (t *Transition) VerifySignatures(v Verifier, allowMissing ...string) error {
	id, err := t.ID()
	if err != nil {
		return err
	}
	for _, s := range t.Signatures {
		if err := v.Verify(id[:], s.Signature, s.Digest, s.By); err != nil {
			return errors.Join(ErrSignatureNotValidOrDataCorrupted, fmt.Errorf("signer %s: %w", s.By, err))
		}
	}
	skip := make(map[string]struct{}, len(allowMissing))
	for _, a := range allowMissing {
		skip[a] = struct{}{}
	}
	var missing []string
	for _, r := range t.MissingSigners() {
		if _, ok := skip[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSignature, strings.Join(missing, ", "))
	}
	return nil
}

// MissingSigners returns required signers that have not signed yet.
func (t *Transition) MissingSigners() []string {
	var missing []string
	for _, r := range t.RequiredSigners() {
		if !t.SignedBy(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Notarised verifies the notary signature.
func (t *Transition) Notarised(v Verifier) error {
	id, err := t.ID()
	if err != nil {
		return err
	}
	for _, s := range t.Signatures {
		if s.By != t.Notary {
			continue
		}
		if err := v.Verify(id[:], s.Signature, s.Digest, s.By); err != nil {
			return errors.Join(ErrSignatureNotValidOrDataCorrupted, err)
		}
		return nil
	}
	return ErrNotarySignatureMissing
}

// OutputRef returns reference to the output at index i.
func (t *Transition) OutputRef(i int) (StateRef, error) {
	if i < 0 || i >= len(t.Outputs) {
		return StateRef{}, ErrOutputOutOfRange
	}
	id, err := t.ID()
	if err != nil {
		return StateRef{}, err
	}
	return StateRef{TransitionID: id, Index: uint32(i)}, nil
}

// Produced returns every output together with its reference.
func (t *Transition) Produced() ([]StateAndRef, error) {
	id, err := t.ID()
	if err != nil {
		return nil, err
	}
	out := make([]StateAndRef, 0, len(t.Outputs))
	for i, s := range t.Outputs {
		out = append(out, StateAndRef{Ref: StateRef{TransitionID: id, Index: uint32(i)}, State: s})
	}
	return out, nil
}

// Encode encodes transition in to msgpack binary form.
func (t *Transition) Encode() ([]byte, error) {
	return serializer.Marshal(t)
}

// Decode decodes transition from msgpack binary form.
func Decode(data []byte) (Transition, error) {
	var t Transition
	err := serializer.Unmarshal(data, &t)
	return t, err
}

// Hex returns hex form of the transition ID.
func Hex(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

// ParseID parses hex form of the transition ID.
func ParseID(s string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("transition id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
