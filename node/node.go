package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/flow"
	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/reactive"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/vault"
	"github.com/bartossh/Timesheet/webhooks"
)

const defaultFeedBuffer = 64

// Config contains the party node configuration.
type Config struct {
	Flow       flow.Config `yaml:"flow"`
	FeedBuffer int         `yaml:"feed_buffer"` // Buffer of every feed subscriber, a slow subscriber misses states above it.
}

// Recorded is published on the feed for every newly recorded transition.
type Recorded struct {
	TransitionID string                   `json:"transition_id"`
	Command      string                   `json:"command"`
	Consumed     []transition.StateRef    `json:"consumed"`
	Produced     []transition.StateAndRef `json:"produced"`
	RecordedAt   time.Time                `json:"recorded_at"`
}

// Node is a party of the ledger.
// It runs the protocols as initiator, responds to protocols opened by counterparties
// and publishes every transition it records.
type Node struct {
	runner *flow.Runner
	vault  vault.Store
	feed   *reactive.Observable[Recorded]
	hooks  *webhooks.Service
	log    logger.Logger
}

// New creates Node. The vault and the checkpoints of the collaborators are observed by the node.
func New(cfg Config, c flow.Collaborators, hooks *webhooks.Service) *Node {
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = defaultFeedBuffer
	}
	n := &Node{
		feed:  reactive.New[Recorded](cfg.FeedBuffer),
		hooks: hooks,
		log:   c.Log,
	}
	n.vault = &recording{Store: c.Vault, n: n}
	c.Vault = n.vault
	c.Checkpoints = &watched{Store: c.Checkpoints, n: n}
	n.runner = flow.New(cfg.Flow, c)
	return n
}

// Address returns address of the party.
func (n *Node) Address() string {
	return n.runner.Address()
}

// Serve responds to sessions opened by counterparties until the context is canceled.
// The feed is closed when Serve returns.
func (n *Node) Serve(ctx context.Context) error {
	defer n.feed.Close()
	n.log.Info(fmt.Sprintf("party [ %s ] is serving protocol sessions", n.Address()))
	return n.runner.Serve(ctx)
}

// Issue issues the invoice to the company.
func (n *Node) Issue(ctx context.Context, req flow.IssueRequest) (flow.Outcome, error) {
	return n.runner.Issue(ctx, req)
}

// Pay pays the invoice identified by linear id.
func (n *Node) Pay(ctx context.Context, linearID uuid.UUID) (flow.Outcome, error) {
	return n.runner.Pay(ctx, linearID)
}

// Resume continues the checkpointed run.
func (n *Node) Resume(ctx context.Context, runID string) (flow.Outcome, error) {
	return n.runner.Resume(ctx, runID)
}

// Runs lists the checkpointed runs, last updated first.
func (n *Node) Runs(ctx context.Context) ([]checkpoint.Record, error) {
	return n.runner.Runs(ctx)
}

// Invoices lists the unconsumed invoices of the party, a nil paid lists both paid and unpaid.
func (n *Node) Invoices(ctx context.Context, paid *bool) ([]transition.StateAndRef, error) {
	p := vault.Involving(n.Address())
	if paid != nil {
		if *paid {
			p = vault.And(p, vault.Paid())
		} else {
			p = vault.And(p, vault.Unpaid())
		}
	}
	return n.vault.Query(ctx, transition.KindInvoice, p)
}

// Settlements lists the settlements of the party.
func (n *Node) Settlements(ctx context.Context) ([]transition.StateAndRef, error) {
	return n.vault.Query(ctx, transition.KindSettlement, vault.Involving(n.Address()))
}

// Subscribe subscribes to the feed of recorded transitions.
func (n *Node) Subscribe() *reactive.Subscriber[Recorded] {
	return n.feed.Subscribe()
}

// Hooks returns the webhooks service notified about recorded transitions and failed runs.
func (n *Node) Hooks() *webhooks.Service {
	return n.hooks
}

func (n *Node) recorded(tx transition.Transition) {
	id, err := tx.ID()
	if err != nil {
		n.log.Error(fmt.Sprintf("party [ %s ] cannot compute recorded transition id: %s", n.Address(), err))
		return
	}
	produced, err := tx.Produced()
	if err != nil {
		n.log.Error(fmt.Sprintf("party [ %s ] cannot resolve produced states of [ %s ]: %s", n.Address(), transition.Hex(id), err))
		return
	}
	consumed := make([]transition.StateRef, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		consumed = append(consumed, in.Ref)
	}

	if missed := n.feed.Publish(Recorded{
		TransitionID: transition.Hex(id),
		Command:      tx.Command.Kind.String(),
		Consumed:     consumed,
		Produced:     produced,
		RecordedAt:   time.Now(),
	}); missed > 0 {
		n.log.Warn(fmt.Sprintf("party [ %s ] feed: %d subscribers missed transition [ %s ]", n.Address(), missed, transition.Hex(id)))
	}
	if n.hooks != nil {
		go n.hooks.PostRecorded(&tx)
	}
}

func (n *Node) failed(rec checkpoint.Record) {
	if n.hooks != nil {
		go n.hooks.PostRunFailed(rec.RunID, rec.Protocol, rec.Peer, errors.New(rec.Err))
	}
}

// recording publishes transitions the first time they are recorded.
type recording struct {
	vault.Store
	n *Node
}

func (r *recording) Record(ctx context.Context, tx transition.Transition) error {
	id, err := tx.ID()
	if err != nil {
		return err
	}
	_, err = r.Store.Transition(ctx, id)
	switch {
	case err == nil:
		return r.Store.Record(ctx, tx)
	case !errors.Is(err, vault.ErrNotFound):
		return err
	}
	if err := r.Store.Record(ctx, tx); err != nil {
		return err
	}
	r.n.recorded(tx)
	return nil
}

// watched reports runs saved with an error.
type watched struct {
	checkpoint.Store
	n *Node
}

func (w *watched) Save(ctx context.Context, rec checkpoint.Record) error {
	if err := w.Store.Save(ctx, rec); err != nil {
		return err
	}
	if rec.Err != "" {
		w.n.failed(rec)
	}
	return nil
}
