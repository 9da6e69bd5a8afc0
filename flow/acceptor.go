package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/transport"
	"github.com/bartossh/Timesheet/validator"
	"github.com/bartossh/Timesheet/vault"
)

// Serve accepts sessions opened by counterparties and responds to them until the context is canceled.
func (r *Runner) Serve(ctx context.Context) error {
	for {
		session, err := r.Transport.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := r.Respond(ctx, session); err != nil {
				r.Log.Warn(fmt.Sprintf("session [ %s ] %s with %s finished with error: %s", session.ID, session.Protocol, session.Peer, err))
			}
		}()
	}
}

// Respond plays the acceptor role in the session opened by the counterparty.
func (r *Runner) Respond(ctx context.Context, session *transport.Session) error {
	defer session.Close()
	t := r.started()

	rec := checkpoint.Record{
		RunID:    session.ID,
		Protocol: session.Protocol,
		Role:     RoleAcceptor,
		State:    AwaitingCounterSignature,
		Peer:     session.Peer,
	}
	err := r.respond(ctx, session, &rec)

	rec.State = Done
	if err != nil {
		rec.Err = err.Error()
	}
	sctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer cancel()
	rec.UpdatedAt = time.Now()
	if errx := r.Checkpoints.Save(sctx, rec); errx != nil {
		r.Log.Error(fmt.Sprintf("run [ %s ] checkpoint failed: %s", rec.RunID, errx))
	}
	r.finished(t, err)
	return err
}

func (r *Runner) respond(ctx context.Context, session *transport.Session, rec *checkpoint.Record) error {
	if commandFor(session.Protocol) == 0 {
		return fmt.Errorf("%w: unknown protocol %s", ErrProtocolAbort, session.Protocol)
	}

	sctx, cancel := r.suspend(ctx)
	msg, err := session.Receive(sctx)
	cancel()
	if err != nil {
		return aborted(err)
	}

	switch msg.Kind {
	case kindFinalized:
		return r.recordFinalized(ctx, session, msg, nil)
	case kindPropose:
	default:
		return fmt.Errorf("%w: unexpected message %s", ErrProtocolAbort, msg.Kind)
	}

	var tx transition.Transition
	if err := msg.Decode(&tx); err != nil {
		return r.decline(ctx, session, aborted(err))
	}
	r.Log.Info(fmt.Sprintf("run [ %s ] %s: received proposal from %s", session.ID, session.Protocol, session.Peer))

	if err := r.check(ctx, session, &tx); err != nil {
		return r.decline(ctx, session, err)
	}

	r.Log.Info(fmt.Sprintf("run [ %s ] %s: signing transition", session.ID, session.Protocol))
	sig, err := tx.Sign(r.Signer)
	if err != nil {
		return r.decline(ctx, session, err)
	}
	raw, err := tx.Encode()
	if err != nil {
		return err
	}
	rec.Transition = raw
	rec.State = AwaitingFinalization
	rec.UpdatedAt = time.Now()
	if err := r.Checkpoints.Save(ctx, *rec); err != nil {
		return err
	}

	sctx, cancel = r.suspend(ctx)
	err = session.Send(sctx, kindCountersign, sig)
	cancel()
	if err != nil {
		return aborted(err)
	}

	r.Log.Info(fmt.Sprintf("run [ %s ] %s: awaiting finalisation", session.ID, session.Protocol))
	fctx, cancel := r.awaitFinalization(ctx)
	defer cancel()
	msg, err = session.Receive(fctx)
	if err != nil {
		return aborted(err)
	}
	switch msg.Kind {
	case kindFinalized:
		return r.recordFinalized(ctx, session, msg, &tx)
	case kindRejected:
		var d Decline
		if err := msg.Decode(&d); err != nil {
			return aborted(err)
		}
		return fmt.Errorf("%w: sequencer rejected: %s", ErrProtocolAbort, d.Reason)
	default:
		return fmt.Errorf("%w: unexpected message %s", ErrProtocolAbort, msg.Kind)
	}
}

// recordFinalized stores the notarised transition relayed by the initiator.
// Without a signed proposal the transition is checked in full before it is recorded.
func (r *Runner) recordFinalized(ctx context.Context, session *transport.Session, msg transport.Message, signed *transition.Transition) error {
	var tx transition.Transition
	if err := msg.Decode(&tx); err != nil {
		return aborted(err)
	}
	id, err := tx.ID()
	if err != nil {
		return aborted(err)
	}

	if signed != nil {
		want, err := signed.ID()
		if err != nil {
			return err
		}
		if id != want {
			return fmt.Errorf("%w: finalized transition %s differs from signed %s", ErrProtocolAbort, transition.Hex(id), transition.Hex(want))
		}
	} else {
		if commandFor(session.Protocol) != tx.Command.Kind {
			return fmt.Errorf("%w: %s command in %s session", ErrPolicy, tx.Command.Kind, session.Protocol)
		}
		if !tx.SignedBy(r.Address()) {
			return fmt.Errorf("%w: finalized transition was not signed by %s", ErrPolicy, r.Address())
		}
		if err := validator.Validate(&tx); err != nil {
			return err
		}
		if err := tx.VerifySignatures(r.Verifier); err != nil {
			return err
		}
	}

	if tx.Notary != r.Sequencer.Address() {
		return fmt.Errorf("%w: transition notarised by %s", ErrPolicy, tx.Notary)
	}
	if err := tx.Notarised(r.Verifier); err != nil {
		return err
	}
	if err := r.Vault.Record(ctx, tx); err != nil {
		return err
	}
	r.Log.Info(fmt.Sprintf("run [ %s ] %s: recorded transition [ %s ]", session.ID, session.Protocol, transition.Hex(id)))
	return nil
}

func (r *Runner) decline(ctx context.Context, session *transport.Session, err error) error {
	r.Log.Warn(fmt.Sprintf("run [ %s ] %s: declining proposal of %s: %s", session.ID, session.Protocol, session.Peer, err))
	sctx, cancel := r.suspend(ctx)
	defer cancel()
	if errx := session.Send(sctx, kindDecline, Decline{Reason: err.Error()}); errx != nil {
		r.Log.Warn(fmt.Sprintf("run [ %s ] cannot send decline to %s: %s", session.ID, session.Peer, errx))
	}
	return err
}

// check applies the validity rules and the party policy to the proposal.
func (r *Runner) check(ctx context.Context, session *transport.Session, tx *transition.Transition) error {
	me := r.Address()
	if tx.Command.Kind != commandFor(session.Protocol) {
		return fmt.Errorf("%w: %s command in %s session", ErrPolicy, tx.Command.Kind, session.Protocol)
	}
	if tx.Notary != r.Sequencer.Address() {
		return fmt.Errorf("%w: notary %s is not trusted", ErrPolicy, tx.Notary)
	}

	r.Log.Info(fmt.Sprintf("run [ %s ] %s: verifying transition", session.ID, session.Protocol))
	if err := validator.Validate(tx); err != nil {
		return err
	}

	required := false
	for _, s := range tx.RequiredSigners() {
		if s == me {
			required = true
		}
	}
	if !required {
		return fmt.Errorf("%w: %s is not required to sign", ErrNotParty, me)
	}
	if err := tx.VerifySignatures(r.Verifier, me); err != nil {
		return err
	}

	switch tx.Command.Kind {
	case transition.CommandCreate:
		return r.checkIssue(session, tx)
	default:
		return r.checkPay(ctx, session, tx)
	}
}

func (r *Runner) checkIssue(session *transport.Session, tx *transition.Transition) error {
	inv := tx.Outputs[0].Invoice
	if inv.Company != r.Address() || inv.Contractor != session.Peer {
		return fmt.Errorf("%w: invoice of %s to %s proposed by %s", ErrNotParty, inv.Contractor, inv.Company, session.Peer)
	}
	if inv.HoursWorked > r.cfg.MaxHoursWorked {
		return fmt.Errorf("%w: invoices with a value over %d aren't accepted", ErrPolicy, r.cfg.MaxHoursWorked)
	}
	if !tx.Command.HasSigner(r.Oracle.Address()) {
		return fmt.Errorf("%w: rate is not attested by oracle %s", ErrPolicy, r.Oracle.Address())
	}
	return nil
}

func (r *Runner) checkPay(ctx context.Context, session *transport.Session, tx *transition.Transition) error {
	consumed := tx.Inputs[0]
	inv := consumed.State.Invoice
	if inv.Contractor != r.Address() || inv.Company != session.Peer {
		return fmt.Errorf("%w: payment of invoice of %s to %s proposed by %s", ErrNotParty, inv.Contractor, inv.Company, session.Peer)
	}

	found, err := r.Vault.Query(ctx, transition.KindInvoice, vault.And(vault.ByLinearID(inv.LinearID), vault.Unpaid()))
	if err != nil {
		return err
	}
	var own *invoice.Invoice
	for _, s := range found {
		if s.Ref == consumed.Ref && s.State.Invoice.SameTerms(*inv) {
			own = s.State.Invoice
		}
	}
	if own == nil {
		return fmt.Errorf("%w: %s", ErrInvoiceNotFound, inv.LinearID)
	}

	amount, err := own.Amount()
	if err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		if out.Kind != transition.KindSettlement {
			continue
		}
		if out.Settlement.Payee != r.Address() || !out.Settlement.Amount.Equal(amount) {
			return fmt.Errorf("%w: settlement of %s to %s does not pay invoice of %s", ErrPolicy, out.Settlement.Amount, out.Settlement.Payee, amount)
		}
	}
	return nil
}
