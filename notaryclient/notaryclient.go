package notaryclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Timesheet/httpclient"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/notaryserver"
	"github.com/bartossh/Timesheet/transition"
)

var (
	ErrApiVersionMismatch = errors.New("api version mismatch")
	ErrApiHeaderMismatch  = errors.New("api header mismatch")
	ErrServerNotAlive     = errors.New("notary server is not alive")
	ErrReceiptMismatch    = errors.New("receipt does not match submitted transition")
)

// Config contains configuration of the notary client.
type Config struct {
	URL     string `yaml:"url"`     // Notary server URL.
	Address string `yaml:"address"` // Notary wallet address.
	Timeout int    `yaml:"timeout"` // Request timeout in seconds.
}

// Client submits transitions to the notary server over HTTP.
type Client struct {
	url      string
	address  string
	timeout  time.Duration
	verifier transition.Verifier
}

// New creates a new notary client.
func New(cfg Config, v transition.Verifier) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{url: cfg.URL, address: cfg.Address, timeout: timeout, verifier: v}
}

// Address returns the notary address.
func (c *Client) Address() string {
	return c.address
}

// ValidateApiVersion checks the server is alive and speaks the same API.
func (c *Client) ValidateApiVersion(ctx context.Context) error {
	var alive notaryserver.AliveResponse
	if err := httpclient.MakeGet(c.deadline(ctx), c.url+notaryserver.AliveURL, &alive); err != nil {
		return err
	}
	switch {
	case !alive.Alive:
		return ErrServerNotAlive
	case alive.APIVersion != notaryserver.ApiVersion:
		return fmt.Errorf("%w: expected %s, got %s", ErrApiVersionMismatch, notaryserver.ApiVersion, alive.APIVersion)
	case alive.APIHeader != notaryserver.Header:
		return fmt.Errorf("%w: expected %s, got %s", ErrApiHeaderMismatch, notaryserver.Header, alive.APIHeader)
	}
	return nil
}

// Submit commits the fully signed transition and attaches the notary signature to it.
func (c *Client) Submit(ctx context.Context, tx *transition.Transition) (notary.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return notary.Receipt{}, err
	}
	id, err := tx.ID()
	if err != nil {
		return notary.Receipt{}, err
	}

	var res notaryserver.SubmitResponse
	err = httpclient.MakePost(c.deadline(ctx), c.url+notaryserver.SubmitURL, notaryserver.SubmitRequest{Transition: *tx}, &res)
	if err != nil {
		return notary.Receipt{}, mapError(err)
	}
	if !res.Success || res.Receipt.TransitionID != id {
		return notary.Receipt{}, ErrReceiptMismatch
	}
	if res.Receipt.Signature.By != c.address {
		return notary.Receipt{}, fmt.Errorf("%w: signed by %s", ErrReceiptMismatch, res.Receipt.Signature.By)
	}
	if err := tx.AddSignature(res.Receipt.Signature, c.verifier); err != nil {
		return notary.Receipt{}, err
	}
	return res.Receipt, nil
}

// Committed reads the receipt of the committed transition.
func (c *Client) Committed(ctx context.Context, id [32]byte) (notary.Receipt, error) {
	res, err := c.read(ctx, id)
	return res.Receipt, err
}

// Transition reads the committed transition carrying the notary signature.
func (c *Client) Transition(ctx context.Context, id [32]byte) (transition.Transition, error) {
	res, err := c.read(ctx, id)
	if err != nil {
		return transition.Transition{}, err
	}
	if err := res.Transition.Notarised(c.verifier); err != nil {
		return transition.Transition{}, err
	}
	return res.Transition, nil
}

func (c *Client) read(ctx context.Context, id [32]byte) (notaryserver.ReceiptResponse, error) {
	var res notaryserver.ReceiptResponse
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := httpclient.MakeGet(c.deadline(ctx), c.url+notaryserver.ReceiptPath(id), &res); err != nil {
		return res, mapError(err)
	}
	return res, nil
}

func (c *Client) deadline(ctx context.Context) time.Duration {
	d, ok := ctx.Deadline()
	if !ok {
		return c.timeout
	}
	if left := time.Until(d); left < c.timeout {
		return left
	}
	return c.timeout
}

func mapError(err error) error {
	var status *httpclient.StatusError
	if !errors.As(err, &status) {
		return err
	}
	var res notaryserver.ErrorResponse
	if errx := json.Unmarshal(status.Body, &res); errx != nil || res.Code == "" {
		return err
	}
	return res.Err()
}
