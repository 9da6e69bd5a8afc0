package validator

import (
	"errors"
	"strings"
)

// Categories of a rejected transition.
var (
	ErrStructuralViolation      = errors.New("structural violation")
	ErrDomainInvariantViolation = errors.New("domain invariant violation")
	ErrAuthorizationViolation   = errors.New("authorization violation")
)

type violation struct {
	kind error
	msg  string
}

func (v *violation) Error() string {
	return v.msg
}

func (v *violation) Unwrap() error {
	return v.kind
}

func structural(msg string) error { return &violation{ErrStructuralViolation, msg} }
func domain(msg string) error { return &violation{ErrDomainInvariantViolation, msg} }
func authorization(msg string) error { return &violation{ErrAuthorizationViolation, msg} }

// Clauses of the validity rules, each matchable with errors.Is.
var (
	ErrUnknownCommand         = structural("unknown command")
	ErrMissingCreatePayload   = structural("create command must carry the rate")
	ErrCreateConsumesInputs   = structural("no inputs should be consumed when issuing an invoice")
	ErrCreateOutputCount      = structural("only one output state should be created")
	ErrCreateOutputNotInvoice = structural("the output state of create must be an invoice")
	ErrSelfDealing            = domain("the contractor and the company cannot be the same entity")
	ErrParticipantsNotSigners = authorization("all of the participants must be signers")
	ErrHoursNotPositive       = domain("the invoice hours worked must be positive")
	ErrIssuedAsPaid           = domain("the invoice cannot be paid when issued")
	ErrRateUnknown            = domain("the rate for the contractor and the company is unknown")
	ErrRateMismatch           = domain("the invoice rate must equal the attested rate")
	ErrRatePartiesMismatch    = domain("the rate must be agreed for the invoice contractor and company")
	ErrPayInputCount          = structural("exactly one input should be consumed when paying an invoice")
	ErrPayOutputCount         = structural("exactly two output states should be created when paying an invoice")
	ErrPayInputNotInvoice     = structural("the consumed state must be an invoice")
	ErrPayOutputsShape        = structural("paying must produce one invoice and one settlement")
	ErrAlreadyPaid            = domain("the invoice is already paid")
	ErrLinearIDChanged        = domain("the paid invoice must keep the linear id")
	ErrTermsChanged           = domain("only the paid flag may change when paying an invoice")
	ErrNotMarkedPaid          = domain("the produced invoice must be marked as paid")
	ErrSettlementParties      = domain("the settlement must move value from the company to the contractor")
	ErrSettlementInvoice      = domain("the settlement must reference the paid invoice")
	ErrSettlementAmount       = domain("the settlement amount must equal hours worked times the rate")
)

// Rejection lists every violated clause in the order the clauses are checked.
type Rejection struct {
	Violations []error
}

// Error returns the reason of the first failing clause.
func (r *Rejection) Error() string {
	if len(r.Violations) == 0 {
		return "rejected"
	}
	return r.Violations[0].Error()
}

// Unwrap exposes every violated clause.
func (r *Rejection) Unwrap() []error {
	return r.Violations
}

// Reasons returns messages of all violated clauses.
func (r *Rejection) Reasons() string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *Rejection) add(err error) {
	r.Violations = append(r.Violations, err)
}

func (r *Rejection) err() error {
	if len(r.Violations) == 0 {
		return nil
	}
	return r
}
