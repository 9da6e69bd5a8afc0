package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/transport"
)

// Client asks a remote oracle for rates and attestations.
type Client struct {
	tr       transport.Transport
	oracle   string
	verifier transition.Verifier
	timeout  time.Duration
}

// NewClient creates Client talking to the oracle address over the transport.
func NewClient(tr transport.Transport, oracle string, v transition.Verifier, timeout time.Duration) *Client {
	return &Client{tr: tr, oracle: oracle, verifier: v, timeout: timeout}
}

// Address returns the oracle address.
func (c *Client) Address() string {
	return c.oracle
}

func (c *Client) exchange(ctx context.Context, protocol, kind string, v any) (transport.Message, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	session, err := c.tr.Open(ctx, c.oracle, protocol)
	if err != nil {
		return transport.Message{}, err
	}
	defer session.Close()
	if err := session.Send(ctx, kind, v); err != nil {
		return transport.Message{}, err
	}
	return session.Receive(ctx)
}

// Query asks the oracle for the rate of the contractor at the company.
// An unregistered pair is answered with the fact marked as unknown.
func (c *Client) Query(ctx context.Context, contractor, company string) (transition.RateFact, error) {
	msg, err := c.exchange(ctx, ProtocolRate, kindQuery, RateQuery{Contractor: contractor, Company: company})
	if err != nil {
		return transition.RateFact{}, err
	}
	if msg.Kind != kindRate {
		return transition.RateFact{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}
	var fact transition.RateFact
	if err := msg.Decode(&fact); err != nil {
		return transition.RateFact{}, err
	}
	if fact.Contractor != contractor || fact.Company != company {
		return transition.RateFact{}, fmt.Errorf("%w: answer names another pair", ErrFactMismatch)
	}
	return fact, nil
}

// Attest asks the oracle to sign the filtered transition.
// The returned signature is verified against the filtered transition id.
func (c *Client) Attest(ctx context.Context, ftx transition.FilteredTransition) (transition.Signature, error) {
	msg, err := c.exchange(ctx, ProtocolAttest, kindAttest, ftx)
	if err != nil {
		return transition.Signature{}, err
	}
	switch msg.Kind {
	case kindSignature:
	case kindDecline:
		var d Decline
		if err := msg.Decode(&d); err != nil {
			return transition.Signature{}, err
		}
		return transition.Signature{}, d.Err()
	default:
		return transition.Signature{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}

	var sig transition.Signature
	if err := msg.Decode(&sig); err != nil {
		return transition.Signature{}, err
	}
	if sig.By != c.oracle {
		return transition.Signature{}, fmt.Errorf("%w: signed by %s", ErrNotASigner, sig.By)
	}
	if err := c.verifier.Verify(ftx.ID[:], sig.Signature, sig.Digest, sig.By); err != nil {
		return transition.Signature{}, errors.Join(transition.ErrSignatureNotValidOrDataCorrupted, err)
	}
	return sig, nil
}
