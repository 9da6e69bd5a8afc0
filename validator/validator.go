package validator

import (
	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/transition"
)

// Validate decides if the transition is admissible.
// It returns nil when admitted or *Rejection listing violated clauses otherwise.
// Validate is pure, it never performs I/O and never checks signatures cryptographically.
func Validate(tx *transition.Transition) error {
	var r Rejection
	if tx == nil {
		r.add(ErrUnknownCommand)
		return r.err()
	}
	switch tx.Command.Kind {
	case transition.CommandCreate:
		validateCreate(tx, &r)
	case transition.CommandPay:
		validatePay(tx, &r)
	default:
		r.add(ErrUnknownCommand)
	}
	return r.err()
}

func validateCreate(tx *transition.Transition, r *Rejection) {
	cmd := tx.Command
	if cmd.Create == nil {
		r.add(ErrMissingCreatePayload)
	}
	if len(tx.Inputs) != 0 {
		r.add(ErrCreateConsumesInputs)
	}
	if len(tx.Outputs) != 1 {
		r.add(ErrCreateOutputCount)
	}

	out := firstInvoice(tx.Outputs)
	if out == nil {
		r.add(ErrCreateOutputNotInvoice)
		return
	}

	if out.Contractor == out.Company {
		r.add(ErrSelfDealing)
	}
	if !signersCover(cmd, out.Participants()) {
		r.add(ErrParticipantsNotSigners)
	}
	if out.HoursWorked <= 0 {
		r.add(ErrHoursNotPositive)
	}
	if expected, err := invoice.Next(invoice.Unissued, invoice.Create); err != nil || invoice.StageOf(*out) != expected {
		r.add(ErrIssuedAsPaid)
	}

	if cmd.Create == nil {
		return
	}
	fact := cmd.Create.Rate
	switch {
	case !fact.Known:
		r.add(ErrRateUnknown)
	case fact.Contractor != out.Contractor || fact.Company != out.Company:
		r.add(ErrRatePartiesMismatch)
	case out.Rate == nil || !out.Rate.Equal(fact.Rate):
		r.add(ErrRateMismatch)
	}
}

func validatePay(tx *transition.Transition, r *Rejection) {
	if len(tx.Inputs) != 1 {
		r.add(ErrPayInputCount)
	}
	if len(tx.Outputs) != 2 {
		r.add(ErrPayOutputCount)
	}

	var consumed *invoice.Invoice
	for _, in := range tx.Inputs {
		if in.State.Kind == transition.KindInvoice && in.State.Invoice != nil {
			consumed = in.State.Invoice
			break
		}
	}
	if consumed == nil {
		r.add(ErrPayInputNotInvoice)
	}

	var produced *invoice.Invoice
	var settlement *invoice.Settlement
	var invoices, settlements int
	for _, out := range tx.Outputs {
		switch {
		case out.Kind == transition.KindInvoice && out.Invoice != nil:
			invoices++
			if produced == nil {
				produced = out.Invoice
			}
		case out.Kind == transition.KindSettlement && out.Settlement != nil:
			settlements++
			if settlement == nil {
				settlement = out.Settlement
			}
		}
	}
	if invoices != 1 || settlements != 1 {
		r.add(ErrPayOutputsShape)
	}

	if consumed == nil {
		return
	}

	target, err := invoice.Next(invoice.StageOf(*consumed), invoice.Pay)
	if err != nil {
		r.add(ErrAlreadyPaid)
	}

	participants := consumed.Participants()
	if produced != nil {
		if produced.LinearID != consumed.LinearID {
			r.add(ErrLinearIDChanged)
		}
		if !produced.SameTerms(*consumed) {
			r.add(ErrTermsChanged)
		}
		if err == nil && invoice.StageOf(*produced) != target {
			r.add(ErrNotMarkedPaid)
		}
		participants = append(participants, produced.Participants()...)
	}
	if !signersCover(tx.Command, participants) {
		r.add(ErrParticipantsNotSigners)
	}

	if settlement == nil {
		return
	}
	if settlement.Payer != consumed.Company || settlement.Payee != consumed.Contractor {
		r.add(ErrSettlementParties)
	}
	if settlement.InvoiceID != consumed.LinearID {
		r.add(ErrSettlementInvoice)
	}
	amount, err := consumed.Amount()
	switch {
	case err != nil:
		r.add(ErrRateUnknown)
	case !amount.Equal(settlement.Amount):
		r.add(ErrSettlementAmount)
	}
}

func firstInvoice(states []transition.State) *invoice.Invoice {
	for _, s := range states {
		if s.Kind == transition.KindInvoice && s.Invoice != nil {
			return s.Invoice
		}
	}
	return nil
}

func signersCover(cmd transition.Command, participants []string) bool {
	for _, p := range participants {
		if !cmd.HasSigner(p) {
			return false
		}
	}
	return true
}
