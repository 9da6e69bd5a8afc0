package invoice

import (
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/spice"
)

var ErrRateUnknown = errors.New("invoice rate is unknown")

// Invoice is the ledger entity billing hours worked by the contractor to the company.
// A paid invoice is a new state succeeding the issued one; both share the LinearID.
type Invoice struct {
	Contractor  string         `json:"contractor"   msgpack:"contractor"`
	Company     string         `json:"company"      msgpack:"company"`
	IssueDate   civil.Date     `json:"issue_date"   msgpack:"issue_date"`
	HoursWorked int64          `json:"hours_worked" msgpack:"hours_worked"`
	Rate        *spice.Melange `json:"rate"         msgpack:"rate,omitempty"`
	Paid        bool           `json:"paid"         msgpack:"paid"`
	LinearID    uuid.UUID      `json:"linear_id"    msgpack:"linear_id"`
}

// Participants returns every identity that must countersign a transition touching the invoice.
func (i Invoice) Participants() []string {
	return []string{i.Contractor, i.Company}
}

// Settled returns the successor state with paid flag set.
func (i Invoice) Settled() Invoice {
	next := i
	if i.Rate != nil {
		rate := *i.Rate
		next.Rate = &rate
	}
	next.Paid = true
	return next
}

// Amount returns hours worked multiplied by the rate.
func (i Invoice) Amount() (spice.Melange, error) {
	if i.Rate == nil {
		return spice.Melange{}, ErrRateUnknown
	}
	return i.Rate.Multiply(i.HoursWorked)
}

// SameTerms reports if both invoices agree on every field except the paid flag.
func (i Invoice) SameTerms(o Invoice) bool {
	if i.Contractor != o.Contractor || i.Company != o.Company || i.IssueDate != o.IssueDate ||
		i.HoursWorked != o.HoursWorked || i.LinearID != o.LinearID {
		return false
	}
	switch {
	case i.Rate == nil && o.Rate == nil:
		return true
	case i.Rate == nil || o.Rate == nil:
		return false
	default:
		return i.Rate.Equal(*o.Rate)
	}
}

// Settlement is the value transfer produced when the company pays the invoice.
type Settlement struct {
	Payer     string        `json:"payer"      msgpack:"payer"`
	Payee     string        `json:"payee"      msgpack:"payee"`
	Amount    spice.Melange `json:"amount"     msgpack:"amount"`
	InvoiceID uuid.UUID     `json:"invoice_id" msgpack:"invoice_id"`
}

// Participants returns payer and payee.
func (s Settlement) Participants() []string {
	return []string{s.Payer, s.Payee}
}
