package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/oracle"
	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/transport"
	"github.com/bartossh/Timesheet/validator"
	"github.com/bartossh/Timesheet/vault"
)

const finalSaveTimeout = 5 * time.Second

type run struct {
	rec       checkpoint.Record
	in        input
	tx        transition.Transition
	session   *transport.Session
	receipt   notary.Receipt
	submitted bool
}

func (ru *run) advance(state string) error {
	raw, err := ru.tx.Encode()
	if err != nil {
		return err
	}
	ru.rec.Transition = raw
	ru.rec.State = state
	return nil
}

func (ru *run) outcome() (Outcome, error) {
	id, err := ru.tx.ID()
	if err != nil {
		return Outcome{}, err
	}
	receipt := ru.receipt
	if receipt.TransitionID != id {
		for _, s := range ru.tx.Signatures {
			if s.By == ru.tx.Notary {
				receipt = notary.Receipt{TransitionID: id, Signature: s}
			}
		}
	}
	return Outcome{RunID: ru.rec.RunID, TransitionID: id, Receipt: receipt, Transition: ru.tx}, nil
}

// Issue runs the issuance protocol as the contractor invoicing the company.
func (r *Runner) Issue(ctx context.Context, req IssueRequest) (Outcome, error) {
	return r.start(ctx, ProtocolIssue, req.Company, input{Issue: req, LinearID: uuid.New()})
}

// Pay runs the payment protocol as the company paying the issued invoice.
func (r *Runner) Pay(ctx context.Context, linearID uuid.UUID) (Outcome, error) {
	return r.start(ctx, ProtocolPay, "", input{LinearID: linearID})
}

// Resume continues the initiator run from its last checkpoint.
// A finished run returns its outcome or ErrRunFinished when it failed.
// A failed run still reports its RunID in the Outcome.
func (r *Runner) Resume(ctx context.Context, runID string) (Outcome, error) {
	rec, err := r.Checkpoints.Load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Role != RoleInitiator {
		return Outcome{}, ErrNotInitiator
	}
	ru := &run{rec: rec}
	if len(rec.Input) > 0 {
		if err := serializer.Unmarshal(rec.Input, &ru.in); err != nil {
			return Outcome{}, err
		}
	}
	if len(rec.Transition) > 0 {
		if ru.tx, err = transition.Decode(rec.Transition); err != nil {
			return Outcome{}, err
		}
	}
	if rec.State == Done {
		if rec.Err != "" {
			return Outcome{}, fmt.Errorf("%w: %s", ErrRunFinished, rec.Err)
		}
		return ru.outcome()
	}
	r.Log.Info(fmt.Sprintf("run [ %s ] %s resumed in state %s", rec.RunID, rec.Protocol, rec.State))
	return r.drive(ctx, ru)
}

func (r *Runner) start(ctx context.Context, protocol, peer string, in input) (Outcome, error) {
	raw, err := serializer.Marshal(in)
	if err != nil {
		return Outcome{}, err
	}
	ru := &run{
		rec: checkpoint.Record{
			RunID:    uuid.NewString(),
			Protocol: protocol,
			Role:     RoleInitiator,
			State:    AwaitingRate,
			Peer:     peer,
			Input:    raw,
		},
		in: in,
	}
	if err := r.save(ctx, ru); err != nil {
		return Outcome{}, err
	}
	return r.drive(ctx, ru)
}

// drive moves the run through its states, checkpointing at every suspension point.
func (r *Runner) drive(ctx context.Context, ru *run) (Outcome, error) {
	t := r.started()
	defer func() {
		if ru.session != nil {
			ru.session.Close()
		}
	}()

	for {
		var err error
		switch ru.rec.State {
		case AwaitingRate:
			err = r.propose(ctx, ru)
		case AwaitingCounterSignature:
			err = r.gather(ctx, ru)
		case AwaitingFinalization:
			err = r.finalize(ctx, ru)
		case Done:
			r.finished(t, nil)
			r.Log.Info(fmt.Sprintf("run [ %s ] %s done", ru.rec.RunID, ru.rec.Protocol))
			return ru.outcome()
		default:
			err = fmt.Errorf("unknown run state %s", ru.rec.State)
		}
		if err == nil {
			err = r.save(ctx, ru)
		}
		if err != nil {
			r.fail(ru, err)
			r.finished(t, err)
			return Outcome{RunID: ru.rec.RunID}, err
		}
	}
}

func (r *Runner) step(ru *run, name string) {
	r.Log.Info(fmt.Sprintf("run [ %s ] %s: %s", ru.rec.RunID, ru.rec.Protocol, name))
}

func (r *Runner) save(ctx context.Context, ru *run) error {
	ru.rec.UpdatedAt = time.Now()
	return r.Checkpoints.Save(ctx, ru.rec)
}

// fail finishes the run with the error.
// A transition the sequencer may have committed stays in finalization so it can be resumed.
func (r *Runner) fail(ru *run, err error) {
	r.Log.Error(fmt.Sprintf("run [ %s ] %s failed in state %s: %s", ru.rec.RunID, ru.rec.Protocol, ru.rec.State, err))
	if !ru.submitted {
		ru.rec.State = Done
	}
	ru.rec.Err = err.Error()
	ctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer cancel()
	if errx := r.save(ctx, ru); errx != nil {
		r.Log.Error(fmt.Sprintf("run [ %s ] checkpoint failed: %s", ru.rec.RunID, errx))
	}
}

// propose builds, verifies and signs the transition, collecting the oracle attestation for issuance.
func (r *Runner) propose(ctx context.Context, ru *run) error {
	for attempt := 0; ; attempt++ {
		var tx transition.Transition
		var err error
		switch ru.rec.Protocol {
		case ProtocolIssue:
			tx, err = r.buildIssue(ctx, ru)
		case ProtocolPay:
			tx, err = r.buildPay(ctx, ru)
		default:
			err = fmt.Errorf("unknown protocol %s", ru.rec.Protocol)
		}
		if err != nil {
			return err
		}

		if ru.rec.Protocol == ProtocolIssue {
			err := r.attest(ctx, &tx)
			if errors.Is(err, oracle.ErrFactMismatch) && attempt < r.cfg.AttestRetries {
				r.Log.Warn(fmt.Sprintf("run [ %s ] attestation refused, querying rate again: %s", ru.rec.RunID, err))
				continue
			}
			if err != nil {
				return err
			}
		}

		ru.tx = tx
		return ru.advance(AwaitingCounterSignature)
	}
}

func (r *Runner) buildIssue(ctx context.Context, ru *run) (transition.Transition, error) {
	me := r.Address()
	req := ru.in.Issue

	r.step(ru, "determining salary")
	qctx, cancel := r.suspend(ctx)
	fact, err := r.Oracle.Query(qctx, me, req.Company)
	cancel()
	if err != nil {
		return transition.Transition{}, aborted(err)
	}

	r.step(ru, "generating transition")
	inv := invoice.Invoice{
		Contractor:  me,
		Company:     req.Company,
		IssueDate:   req.IssueDate,
		HoursWorked: req.HoursWorked,
		LinearID:    ru.in.LinearID,
	}
	if fact.Known {
		rate := fact.Rate
		inv.Rate = &rate
	}
	cmd := transition.NewCreate(fact, me, req.Company, r.Oracle.Address())
	tx, err := transition.New(nil, []transition.State{transition.InvoiceState(inv)}, cmd, r.Sequencer.Address())
	if err != nil {
		return transition.Transition{}, err
	}
	return tx, r.verifyAndSign(ru, &tx)
}

func (r *Runner) buildPay(ctx context.Context, ru *run) (transition.Transition, error) {
	me := r.Address()

	r.step(ru, "determining salary")
	found, err := r.Vault.Query(ctx, transition.KindInvoice, vault.And(vault.ByLinearID(ru.in.LinearID), vault.Unpaid()))
	if err != nil {
		return transition.Transition{}, err
	}
	if len(found) == 0 {
		return transition.Transition{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, ru.in.LinearID)
	}
	issued := found[0]
	inv := *issued.State.Invoice
	if inv.Company != me {
		return transition.Transition{}, fmt.Errorf("%w: invoice %s is billed to %s", ErrNotParty, inv.LinearID, inv.Company)
	}
	amount, err := inv.Amount()
	if err != nil {
		return transition.Transition{}, err
	}
	ru.rec.Peer = inv.Contractor

	r.step(ru, "generating transition")
	outputs := []transition.State{
		transition.InvoiceState(inv.Settled()),
		transition.SettlementState(invoice.Settlement{
			Payer:     inv.Company,
			Payee:     inv.Contractor,
			Amount:    amount,
			InvoiceID: inv.LinearID,
		}),
	}
	cmd := transition.NewPay(inv.Company, inv.Contractor)
	tx, err := transition.New([]transition.StateAndRef{issued}, outputs, cmd, r.Sequencer.Address())
	if err != nil {
		return transition.Transition{}, err
	}
	return tx, r.verifyAndSign(ru, &tx)
}

func (r *Runner) verifyAndSign(ru *run, tx *transition.Transition) error {
	r.step(ru, "verifying transition")
	if err := validator.Validate(tx); err != nil {
		return err
	}
	r.step(ru, "signing transition")
	_, err := tx.Sign(r.Signer)
	return err
}

func (r *Runner) attest(ctx context.Context, tx *transition.Transition) error {
	ftx, err := tx.Filter(transition.OnlyCommand)
	if err != nil {
		return err
	}
	actx, cancel := r.suspend(ctx)
	defer cancel()
	sig, err := r.Oracle.Attest(actx, ftx)
	if err != nil {
		if declinedByOracle(err) {
			return err
		}
		return aborted(err)
	}
	return tx.AddSignature(sig, r.Verifier)
}

func declinedByOracle(err error) bool {
	for _, e := range []error{oracle.ErrFactMismatch, oracle.ErrNotASigner, oracle.ErrRedactionIntegrity, oracle.ErrUnexpectedComponent} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// gather sends the proposal to the counterparty and waits for its signature.
func (r *Runner) gather(ctx context.Context, ru *run) error {
	r.step(ru, "gathering signatures")
	sctx, cancel := r.suspend(ctx)
	defer cancel()

	if ru.session == nil {
		session, err := r.Transport.Open(sctx, ru.rec.Peer, ru.rec.Protocol)
		if err != nil {
			return aborted(err)
		}
		ru.session = session
	}
	if err := ru.session.Send(sctx, kindPropose, ru.tx); err != nil {
		return aborted(err)
	}
	msg, err := ru.session.Receive(sctx)
	if err != nil {
		return aborted(err)
	}

	switch msg.Kind {
	case kindCountersign:
		var sig transition.Signature
		if err := msg.Decode(&sig); err != nil {
			return aborted(err)
		}
		if sig.By != ru.rec.Peer {
			return fmt.Errorf("%w: countersignature of %s instead of %s", ErrProtocolAbort, sig.By, ru.rec.Peer)
		}
		if err := ru.tx.AddSignature(sig, r.Verifier); err != nil {
			return aborted(err)
		}
		if err := ru.tx.VerifySignatures(r.Verifier); err != nil {
			return aborted(err)
		}
		return ru.advance(AwaitingFinalization)
	case kindDecline:
		var d Decline
		if err := msg.Decode(&d); err != nil {
			return aborted(err)
		}
		return fmt.Errorf("%w: %s declined: %s", ErrProtocolAbort, ru.rec.Peer, d.Reason)
	default:
		return fmt.Errorf("%w: unexpected message %s", ErrProtocolAbort, msg.Kind)
	}
}

// finalize submits the fully signed transition, records it and relays the result to the counterparty.
func (r *Runner) finalize(ctx context.Context, ru *run) error {
	r.step(ru, "finalising transition")
	sctx, cancel := r.suspend(ctx)
	receipt, err := r.Sequencer.Submit(sctx, &ru.tx)
	cancel()
	if err != nil {
		if rejectedBySequencer(err) {
			r.relay(ctx, ru, kindRejected, Decline{Reason: err.Error()})
			return err
		}
		// The outcome is unknown, resubmitting returns the receipt if the transition got committed.
		ru.submitted = true
		return aborted(err)
	}
	ru.receipt = receipt
	ru.submitted = true

	if err := r.Vault.Record(ctx, ru.tx); err != nil {
		return err
	}
	r.relay(ctx, ru, kindFinalized, ru.tx)
	ru.rec.Err = ""
	return ru.advance(Done)
}

// rejectedBySequencer reports whether the sequencer refused to commit the transition.
func rejectedBySequencer(err error) bool {
	for _, e := range []error{
		notary.ErrSequencingConflict,
		notary.ErrWrongNotary,
		notary.ErrUnknownInput,
		transition.ErrMissingSignature,
		transition.ErrSignatureNotValidOrDataCorrupted,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// relay tells the counterparty the sequencer result, a resumed run opens a fresh session.
func (r *Runner) relay(ctx context.Context, ru *run, kind string, v any) {
	sctx, cancel := r.suspend(ctx)
	defer cancel()
	if ru.session == nil {
		session, err := r.Transport.Open(sctx, ru.rec.Peer, ru.rec.Protocol)
		if err != nil {
			r.Log.Warn(fmt.Sprintf("run [ %s ] cannot reach %s to relay %s: %s", ru.rec.RunID, ru.rec.Peer, kind, err))
			return
		}
		ru.session = session
	}
	if err := ru.session.Send(sctx, kind, v); err != nil {
		r.Log.Warn(fmt.Sprintf("run [ %s ] cannot relay %s to %s: %s", ru.rec.RunID, kind, ru.rec.Peer, err))
	}
}
