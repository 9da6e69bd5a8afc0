package vault

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/transition"
)

var (
	ErrNotNotarised = errors.New("transition is not notarised")
	ErrNotFound     = errors.New("transition not found")
)

// Store keeps the notarised transitions of the party and the states it has not consumed yet.
type Store interface {
	// Record stores notarised transition, marks its inputs consumed and its outputs unconsumed.
	// Recording the same transition twice has no further effect.
	Record(ctx context.Context, tx transition.Transition) error
	// Query returns unconsumed states of the kind matching the predicate in the recording order.
	Query(ctx context.Context, kind transition.StateKind, p Predicate) ([]transition.StateAndRef, error)
	// Transition returns recorded transition.
	Transition(ctx context.Context, id [32]byte) (transition.Transition, error)
}

// Entry is a transition prepared for recording.
type Entry struct {
	ID       [32]byte
	Raw      []byte
	Consumed []transition.StateRef
	Produced []transition.StateAndRef
}

// Prepare verifies the notary signature and splits the transition in to consumed and produced states.
func Prepare(tx transition.Transition, v transition.Verifier) (Entry, error) {
	if err := tx.Notarised(v); err != nil {
		return Entry{}, errors.Join(ErrNotNotarised, err)
	}
	id, err := tx.ID()
	if err != nil {
		return Entry{}, err
	}
	raw, err := tx.Encode()
	if err != nil {
		return Entry{}, err
	}
	produced, err := tx.Produced()
	if err != nil {
		return Entry{}, err
	}
	consumed := make([]transition.StateRef, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		consumed = append(consumed, in.Ref)
	}
	return Entry{ID: id, Raw: raw, Consumed: consumed, Produced: produced}, nil
}

// Predicate selects states.
type Predicate func(s transition.State) bool

// All matches every state.
func All() Predicate {
	return func(transition.State) bool { return true }
}

// ByLinearID matches the invoice with the linear id and the settlements paying it.
func ByLinearID(id uuid.UUID) Predicate {
	return func(s transition.State) bool {
		switch {
		case s.Kind == transition.KindInvoice && s.Invoice != nil:
			return s.Invoice.LinearID == id
		case s.Kind == transition.KindSettlement && s.Settlement != nil:
			return s.Settlement.InvoiceID == id
		default:
			return false
		}
	}
}

// Unpaid matches invoices that are not paid.
func Unpaid() Predicate {
	return func(s transition.State) bool {
		return s.Kind == transition.KindInvoice && s.Invoice != nil && !s.Invoice.Paid
	}
}

// Paid matches paid invoices.
func Paid() Predicate {
	return func(s transition.State) bool {
		return s.Kind == transition.KindInvoice && s.Invoice != nil && s.Invoice.Paid
	}
}

// Involving matches states the address participates in.
func Involving(address string) Predicate {
	return func(s transition.State) bool {
		for _, p := range s.Participants() {
			if p == address {
				return true
			}
		}
		return false
	}
}

// And matches states matching every predicate.
func And(ps ...Predicate) Predicate {
	return func(s transition.State) bool {
		for _, p := range ps {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// Match reports if the state is of the kind and matches the predicate, nil predicate matches all.
func Match(s transition.State, kind transition.StateKind, p Predicate) bool {
	if s.Kind != kind {
		return false
	}
	return p == nil || p(s)
}
