package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/transport"
)

// Protocols served by the oracle.
const (
	ProtocolRate   = "oracle/rate"
	ProtocolAttest = "oracle/attest"
)

const (
	kindQuery     = "query"
	kindRate      = "rate"
	kindAttest    = "attest"
	kindSignature = "signature"
	kindDecline   = "decline"
)

var (
	ErrFactMismatch        = errors.New("fact mismatch")
	ErrRedactionIntegrity  = errors.New("redacted transition does not commit to the claimed id")
	ErrNotASigner          = errors.New("oracle is not a declared signer of the command")
	ErrUnexpectedComponent = errors.New("oracle may only see the create command")
	ErrUnexpectedMessage   = errors.New("unexpected oracle message")
)

// RateQuery asks for the rate of the contractor at the company.
type RateQuery struct {
	Contractor string `msgpack:"contractor"`
	Company    string `msgpack:"company"`
}

type declineCode uint8

const (
	declineOther declineCode = iota
	declineFactMismatch
	declineRedaction
	declineNotASigner
	declineUnexpectedComponent
)

// Decline is sent instead of the signature when attestation is refused.
type Decline struct {
	Code   declineCode `msgpack:"code"`
	Reason string      `msgpack:"reason"`
}

func declineOf(err error) Decline {
	d := Decline{Reason: err.Error()}
	switch {
	case errors.Is(err, ErrFactMismatch):
		d.Code = declineFactMismatch
	case errors.Is(err, ErrRedactionIntegrity):
		d.Code = declineRedaction
	case errors.Is(err, ErrNotASigner):
		d.Code = declineNotASigner
	case errors.Is(err, ErrUnexpectedComponent):
		d.Code = declineUnexpectedComponent
	}
	return d
}

// Err converts decline back in to the error of the matching category.
func (d Decline) Err() error {
	var sentinel error
	switch d.Code {
	case declineFactMismatch:
		sentinel = ErrFactMismatch
	case declineRedaction:
		sentinel = ErrRedactionIntegrity
	case declineNotASigner:
		sentinel = ErrNotASigner
	case declineUnexpectedComponent:
		sentinel = ErrUnexpectedComponent
	default:
		return fmt.Errorf("oracle declined: %s", d.Reason)
	}
	return fmt.Errorf("%w: oracle declined: %s", sentinel, d.Reason)
}

// Service answers rate queries and attests create commands carrying the rates it holds.
type Service struct {
	store   FactStore
	signer  transition.Signer
	timeout time.Duration
	log     logger.Logger
}

// New creates oracle Service signing with the signer.
func New(store FactStore, signer transition.Signer, timeout time.Duration, log logger.Logger) *Service {
	return &Service{store: store, signer: signer, timeout: timeout, log: log}
}

// Address returns the oracle address.
func (s *Service) Address() string {
	return s.signer.Address()
}

// Query returns the rate fact held for the pair, unknown for unregistered pairs.
func (s *Service) Query(contractor, company string) transition.RateFact {
	return Fact(s.store, contractor, company)
}

// Attest signs the id of the filtered transition when every disclosed component
// is a create command naming the oracle as a signer and claiming exactly the rate the oracle holds.
func (s *Service) Attest(ftx transition.FilteredTransition) (transition.Signature, error) {
	if err := ftx.Verify(); err != nil {
		return transition.Signature{}, errors.Join(ErrRedactionIntegrity, err)
	}
	for _, c := range ftx.Components {
		if c.Group != transition.GroupCommand {
			return transition.Signature{}, ErrUnexpectedComponent
		}
	}
	cmds, err := ftx.Commands()
	if err != nil {
		return transition.Signature{}, errors.Join(ErrRedactionIntegrity, err)
	}

	address := s.signer.Address()
	for _, cmd := range cmds {
		if cmd.Kind != transition.CommandCreate || cmd.Create == nil {
			return transition.Signature{}, fmt.Errorf("%w: command %s carries no rate", ErrFactMismatch, cmd.Kind)
		}
		if !cmd.HasSigner(address) {
			return transition.Signature{}, ErrNotASigner
		}
		claimed := cmd.Create.Rate
		held := s.Query(claimed.Contractor, claimed.Company)
		switch {
		case !held.Known:
			return transition.Signature{}, fmt.Errorf("%w: no rate for contractor %s at company %s", ErrFactMismatch, claimed.Contractor, claimed.Company)
		case !claimed.Known || !held.Rate.Equal(claimed.Rate):
			return transition.Signature{}, fmt.Errorf("%w: claimed rate %s, held rate %s", ErrFactMismatch, claimed.Rate, held.Rate)
		}
	}

	digest, sig := s.signer.Sign(ftx.ID[:])
	return transition.Signature{By: address, Digest: digest, Signature: sig}, nil
}

// Serve accepts oracle sessions until the context is canceled.
func (s *Service) Serve(ctx context.Context, tr transport.Transport) error {
	for {
		session, err := tr.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := s.Handle(ctx, session); err != nil {
				s.log.Error(fmt.Sprintf("oracle session [ %s ] with %s failed: %s", session.ID, session.Peer, err))
			}
		}()
	}
}

// Handle answers a single oracle session and closes it.
func (s *Service) Handle(ctx context.Context, session *transport.Session) error {
	defer session.Close()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	switch session.Protocol {
	case ProtocolRate:
		return s.handleQuery(ctx, session)
	case ProtocolAttest:
		return s.handleAttest(ctx, session)
	default:
		return fmt.Errorf("%w: protocol %s", ErrUnexpectedMessage, session.Protocol)
	}
}

func (s *Service) handleQuery(ctx context.Context, session *transport.Session) error {
	s.log.Debug(fmt.Sprintf("oracle session [ %s ]: receiving query request", session.ID))
	msg, err := session.Receive(ctx)
	if err != nil {
		return err
	}
	if msg.Kind != kindQuery {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}
	var q RateQuery
	if err := msg.Decode(&q); err != nil {
		return err
	}

	s.log.Debug(fmt.Sprintf("oracle session [ %s ]: checking salary table", session.ID))
	fact := s.Query(q.Contractor, q.Company)

	s.log.Debug(fmt.Sprintf("oracle session [ %s ]: sending query response", session.ID))
	return session.Send(ctx, kindRate, fact)
}

func (s *Service) handleAttest(ctx context.Context, session *transport.Session) error {
	msg, err := session.Receive(ctx)
	if err != nil {
		return err
	}
	if msg.Kind != kindAttest {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}
	var ftx transition.FilteredTransition
	if err := msg.Decode(&ftx); err != nil {
		return session.Send(ctx, kindDecline, declineOf(errors.Join(ErrRedactionIntegrity, err)))
	}

	sig, err := s.Attest(ftx)
	if err != nil {
		s.log.Warn(fmt.Sprintf("oracle refused to attest transition [ %s ] for %s: %s", transition.Hex(ftx.ID), session.Peer, err))
		return session.Send(ctx, kindDecline, declineOf(err))
	}
	s.log.Info(fmt.Sprintf("oracle attested transition [ %s ] for %s", transition.Hex(ftx.ID), session.Peer))
	return session.Send(ctx, kindSignature, sig)
}
