package transition

import (
	"errors"
	"fmt"

	"github.com/bartossh/Timesheet/merkle"
	"github.com/bartossh/Timesheet/serializer"
)

var (
	ErrComponentNotCommitted = errors.New("disclosed component is not committed by the transition id")
	ErrNothingDisclosed      = errors.New("filtered transition discloses no component")
)

// FilteredComponent is a single disclosed component with the proof of its inclusion.
type FilteredComponent struct {
	Group Group        `json:"group" msgpack:"group"`
	Index uint32       `json:"index" msgpack:"index"`
	Nonce [32]byte     `json:"nonce" msgpack:"nonce"`
	Data  []byte       `json:"data"  msgpack:"data"`
	Proof merkle.Proof `json:"proof" msgpack:"proof"`
}

// FilteredTransition is a redacted view of the transition.
// It reveals only the selected components, every one provably committed by the ID.
type FilteredTransition struct {
	ID         [32]byte            `json:"id"         msgpack:"id"`
	Components []FilteredComponent `json:"components" msgpack:"components"`
}

// Filter builds a redacted view holding only the components accepted by keep.
// Nonces of hidden components are not disclosed so their content cannot be guessed.
func (t *Transition) Filter(keep func(g Group, index uint32) bool) (FilteredTransition, error) {
	cs, ls, err := t.leaves()
	if err != nil {
		return FilteredTransition{}, err
	}
	root, err := merkle.Root(ls)
	if err != nil {
		return FilteredTransition{}, err
	}
	f := FilteredTransition{ID: root}
	for i, c := range cs {
		if !keep(c.group, c.index) {
			continue
		}
		p, err := merkle.Prove(ls, i)
		if err != nil {
			return FilteredTransition{}, err
		}
		f.Components = append(f.Components, FilteredComponent{
			Group: c.group,
			Index: c.index,
			Nonce: nonce(t.Salt, c.group, c.index),
			Data:  c.data,
			Proof: p,
		})
	}
	return f, nil
}

// OnlyCommand keeps the command component.
func OnlyCommand(g Group, _ uint32) bool {
	return g == GroupCommand
}

// Verify checks every disclosed component proves in to the ID.
func (f *FilteredTransition) Verify() error {
	if len(f.Components) == 0 {
		return ErrNothingDisclosed
	}
	for _, c := range f.Components {
		if !c.Proof.Verify(leaf(c.Nonce, c.Group, c.Data), f.ID) {
			return fmt.Errorf("%w: group %d index %d", ErrComponentNotCommitted, c.Group, c.Index)
		}
	}
	return nil
}

// Commands decodes disclosed commands. Call Verify first.
func (f *FilteredTransition) Commands() ([]Command, error) {
	var cmds []Command
	for _, c := range f.Components {
		if c.Group != GroupCommand {
			continue
		}
		var cmd Command
		if err := serializer.Unmarshal(c.Data, &cmd); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
