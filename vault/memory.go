package vault

import (
	"context"
	"sync"

	"github.com/bartossh/Timesheet/transition"
)

// Memory is in memory Store.
type Memory struct {
	mux         sync.RWMutex
	verifier    transition.Verifier
	transitions map[[32]byte][]byte
	unconsumed  map[transition.StateRef]transition.StateAndRef
	order       []transition.StateRef
}

// NewMemory creates empty in memory Store.
func NewMemory(v transition.Verifier) *Memory {
	return &Memory{
		verifier:    v,
		transitions: make(map[[32]byte][]byte),
		unconsumed:  make(map[transition.StateRef]transition.StateAndRef),
	}
}

// Record stores notarised transition.
func (m *Memory) Record(ctx context.Context, tx transition.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := Prepare(tx, m.verifier)
	if err != nil {
		return err
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.transitions[e.ID]; ok {
		return nil
	}
	m.transitions[e.ID] = e.Raw
	for _, ref := range e.Consumed {
		delete(m.unconsumed, ref)
	}
	for _, s := range e.Produced {
		m.unconsumed[s.Ref] = s
		m.order = append(m.order, s.Ref)
	}
	return nil
}

// Query returns unconsumed states of the kind matching the predicate.
func (m *Memory) Query(ctx context.Context, kind transition.StateKind, p Predicate) ([]transition.StateAndRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	var found []transition.StateAndRef
	for _, ref := range m.order {
		s, ok := m.unconsumed[ref]
		if !ok || !Match(s.State, kind, p) {
			continue
		}
		found = append(found, s)
	}
	return found, nil
}

// Transition returns recorded transition.
func (m *Memory) Transition(ctx context.Context, id [32]byte) (transition.Transition, error) {
	if err := ctx.Err(); err != nil {
		return transition.Transition{}, err
	}
	m.mux.RLock()
	raw, ok := m.transitions[id]
	m.mux.RUnlock()
	if !ok {
		return transition.Transition{}, ErrNotFound
	}
	return transition.Decode(raw)
}
