package invoice

import (
	"errors"
	"fmt"
)

// Stage is the lifecycle position of an invoice.
type Stage uint8

const (
	Unissued Stage = iota
	Issued
	Paid
)

func (s Stage) String() string {
	switch s {
	case Unissued:
		return "unissued"
	case Issued:
		return "issued"
	case Paid:
		return "paid"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Event drives the invoice from one stage to the next.
type Event uint8

const (
	Create Event = iota + 1
	Pay
)

func (e Event) String() string {
	switch e {
	case Create:
		return "create"
	case Pay:
		return "pay"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

var (
	ErrIllegalEvent = errors.New("event not allowed in the current stage")
	ErrUnknownEvent = errors.New("unknown event")
)

// Next returns the stage reached by applying event e in stage s.
// Paid is terminal.
func Next(s Stage, e Event) (Stage, error) {
	switch e {
	case Create:
		if s == Unissued {
			return Issued, nil
		}
	case Pay:
		if s == Issued {
			return Paid, nil
		}
	default:
		return s, ErrUnknownEvent
	}
	return s, fmt.Errorf("%w: %s in stage %s", ErrIllegalEvent, e, s)
}

// From returns the stage an event must start from.
func From(e Event) (Stage, error) {
	switch e {
	case Create:
		return Unissued, nil
	case Pay:
		return Issued, nil
	default:
		return Unissued, ErrUnknownEvent
	}
}

// StageOf classifies an invoice present on the ledger.
func StageOf(i Invoice) Stage {
	if i.Paid {
		return Paid
	}
	return Issued
}
