package transition

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/spice"
)

var ErrMalformedStateRef = errors.New("malformed state reference")

// StateKind tags the content of the State union.
type StateKind uint8

const (
	KindInvoice StateKind = iota + 1
	KindSettlement
)

func (k StateKind) String() string {
	switch k {
	case KindInvoice:
		return "invoice"
	case KindSettlement:
		return "settlement"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// State is a ledger state, exactly one of the pointers matching the Kind is set.
type State struct {
	Kind       StateKind           `json:"kind"                 msgpack:"kind"`
	Invoice    *invoice.Invoice    `json:"invoice,omitempty"    msgpack:"invoice,omitempty"`
	Settlement *invoice.Settlement `json:"settlement,omitempty" msgpack:"settlement,omitempty"`
}

// InvoiceState wraps invoice in to the State.
func InvoiceState(i invoice.Invoice) State {
	return State{Kind: KindInvoice, Invoice: &i}
}

// SettlementState wraps settlement in to the State.
func SettlementState(s invoice.Settlement) State {
	return State{Kind: KindSettlement, Settlement: &s}
}

// Participants returns identities of the parties the state belongs to.
func (s State) Participants() []string {
	switch {
	case s.Kind == KindInvoice && s.Invoice != nil:
		return s.Invoice.Participants()
	case s.Kind == KindSettlement && s.Settlement != nil:
		return s.Settlement.Participants()
	default:
		return nil
	}
}

// StateRef points at the output of a committed transition.
type StateRef struct {
	TransitionID [32]byte `json:"transition_id" msgpack:"transition_id"`
	Index        uint32   `json:"index"         msgpack:"index"`
}

// String returns "<hex transition id>:<index>".
func (r StateRef) String() string {
	return hex.EncodeToString(r.TransitionID[:]) + ":" + strconv.FormatUint(uint64(r.Index), 10)
}

// Key returns fixed length binary key of the reference.
func (r StateRef) Key() []byte {
	k := make([]byte, 36)
	copy(k, r.TransitionID[:])
	binary.BigEndian.PutUint32(k[32:], r.Index)
	return k
}

// ParseStateRef parses reference created by StateRef.String.
func ParseStateRef(s string) (StateRef, error) {
	id, idx, ok := strings.Cut(s, ":")
	if !ok {
		return StateRef{}, ErrMalformedStateRef
	}
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 32 {
		return StateRef{}, ErrMalformedStateRef
	}
	n, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return StateRef{}, errors.Join(ErrMalformedStateRef, err)
	}
	var r StateRef
	copy(r.TransitionID[:], raw)
	r.Index = uint32(n)
	return r, nil
}

// StateAndRef is a consumed state resolved together with its reference.
type StateAndRef struct {
	Ref   StateRef `json:"ref"   msgpack:"ref"`
	State State    `json:"state" msgpack:"state"`
}

// CommandKind tags the Command union.
type CommandKind uint8

const (
	CommandCreate CommandKind = iota + 1
	CommandPay
)

func (k CommandKind) String() string {
	switch k {
	case CommandCreate:
		return "create"
	case CommandPay:
		return "pay"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// Event maps command on to the invoice lifecycle event.
func (k CommandKind) Event() invoice.Event {
	switch k {
	case CommandCreate:
		return invoice.Create
	case CommandPay:
		return invoice.Pay
	default:
		return invoice.Event(0)
	}
}

// RateFact is the rate the oracle holds for the contractor and company pair.
type RateFact struct {
	Contractor string        `json:"contractor" msgpack:"contractor"`
	Company    string        `json:"company"    msgpack:"company"`
	Rate       spice.Melange `json:"rate"       msgpack:"rate"`
	Known      bool          `json:"known"      msgpack:"known"`
}

// Create is the payload of the create command.
type Create struct {
	Rate RateFact `json:"rate" msgpack:"rate"`
}

// Command is the signed intent of the transition with the declared signers.
type Command struct {
	Kind    CommandKind `json:"kind"             msgpack:"kind"`
	Create  *Create     `json:"create,omitempty" msgpack:"create,omitempty"`
	Signers []string    `json:"signers"          msgpack:"signers,omitempty"`
}

// NewCreate creates the create command carrying the rate fact.
func NewCreate(rate RateFact, signers ...string) Command {
	return Command{Kind: CommandCreate, Create: &Create{Rate: rate}, Signers: signers}
}

// NewPay creates the pay command.
func NewPay(signers ...string) Command {
	return Command{Kind: CommandPay, Signers: signers}
}

// HasSigner reports if address is among declared signers.
func (c Command) HasSigner(address string) bool {
	for _, s := range c.Signers {
		if s == address {
			return true
		}
	}
	return false
}
