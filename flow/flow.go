package flow

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/transport"
	"github.com/bartossh/Timesheet/vault"
)

// Protocols run between the parties.
const (
	ProtocolIssue = "invoice/issue"
	ProtocolPay   = "invoice/pay"
)

const (
	kindPropose     = "propose"
	kindCountersign = "countersign"
	kindDecline     = "decline"
	kindFinalized   = "finalized"
	kindRejected    = "rejected"
)

// Run states, a run is checkpointed every time it reaches one of them.
const (
	AwaitingRate             = "awaiting_rate"
	AwaitingCounterSignature = "awaiting_counter_signature"
	AwaitingFinalization     = "awaiting_finalization"
	Done                     = "done"
)

// Roles of the party in the run.
const (
	RoleInitiator = "initiator"
	RoleAcceptor  = "acceptor"
)

const (
	defaultMaxHoursWorked = 10
	defaultAttestRetries  = 1
	defaultSessionTimeout = 30
	finalizationWindows   = 2
)

const (
	runsActiveTelemetryGauge      = "flow_runs_active"
	runsTotalTelemetryCount       = "flow_runs_total"
	runsFailedTelemetryCount      = "flow_runs_failed_total"
	runDurationTelemetryHistogram = "flow_run_duration"
)

var (
	ErrProtocolAbort   = errors.New("protocol aborted")
	ErrPolicy          = errors.New("acceptor policy violation")
	ErrInvoiceNotFound = errors.New("unpaid invoice not found")
	ErrNotParty        = errors.New("party is not a participant of the invoice")
	ErrRunFinished     = errors.New("run has already finished")
	ErrNotInitiator    = errors.New("only initiator runs can be resumed")
)

// Config contains the party policy and protocol timing.
type Config struct {
	MaxHoursWorked int64 `yaml:"max_hours_worked"` // Acceptor ceiling of hours worked on issued invoice.
	AttestRetries  int   `yaml:"attest_retries"`   // Fresh rate queries after the oracle reports a fact mismatch, at least one.
	SessionTimeout int   `yaml:"session_timeout"`  // Seconds to wait at every suspension point.
}

// Sequencer commits fully signed transitions.
type Sequencer interface {
	Address() string
	Submit(ctx context.Context, tx *transition.Transition) (notary.Receipt, error)
}

// Oracle answers rate queries and attests to the rate of the create command.
type Oracle interface {
	Address() string
	Query(ctx context.Context, contractor, company string) (transition.RateFact, error)
	Attest(ctx context.Context, ftx transition.FilteredTransition) (transition.Signature, error)
}

// Collaborators are the services the Runner works with.
type Collaborators struct {
	Signer      transition.Signer
	Verifier    transition.Verifier
	Transport   transport.Transport
	Oracle      Oracle
	Sequencer   Sequencer
	Vault       vault.Store
	Checkpoints checkpoint.Store
	Telemetry   *telemetry.Measurements
	Log         logger.Logger
}

// IssueRequest describes the invoice the contractor issues to the company.
type IssueRequest struct {
	Company     string     `json:"company"      msgpack:"company"`
	HoursWorked int64      `json:"hours_worked" msgpack:"hours_worked"`
	IssueDate   civil.Date `json:"issue_date"   msgpack:"issue_date"`
}

// Outcome is the result of a finished run.
type Outcome struct {
	RunID        string                `json:"run_id"`
	TransitionID [32]byte              `json:"transition_id"`
	Receipt      notary.Receipt        `json:"receipt"`
	Transition   transition.Transition `json:"transition"`
}

// Decline carries the reason the peer refused to continue.
type Decline struct {
	Reason string `msgpack:"reason"`
}

type input struct {
	Issue    IssueRequest `msgpack:"issue"`
	LinearID uuid.UUID    `msgpack:"linear_id"`
}

// Runner runs the issuance and payment protocols for a single party.
type Runner struct {
	cfg Config
	Collaborators
}

// New creates Runner.
func New(cfg Config, c Collaborators) *Runner {
	if cfg.MaxHoursWorked <= 0 {
		cfg.MaxHoursWorked = defaultMaxHoursWorked
	}
	if cfg.AttestRetries <= 0 {
		cfg.AttestRetries = defaultAttestRetries
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}
	c.Telemetry.CreateUpdateObservableGauge(runsActiveTelemetryGauge, "Number of protocol runs in progress.")
	c.Telemetry.CreateUpdateObservableCounter(runsTotalTelemetryCount, "Number of started protocol runs.")
	c.Telemetry.CreateUpdateObservableCounter(runsFailedTelemetryCount, "Number of protocol runs finished with error.")
	c.Telemetry.CreateUpdateObservableHistogtram(runDurationTelemetryHistogram, "Protocol run duration in [ us ].")
	return &Runner{cfg: cfg, Collaborators: c}
}

// Address returns address of the party.
func (r *Runner) Address() string {
	return r.Signer.Address()
}

// Runs lists checkpointed runs, last updated first.
func (r *Runner) Runs(ctx context.Context) ([]checkpoint.Record, error) {
	return r.Checkpoints.List(ctx)
}

func (r *Runner) timeout() time.Duration {
	return time.Duration(r.cfg.SessionTimeout) * time.Second
}

// suspend bounds a single suspension point with the session timeout.
func (r *Runner) suspend(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout())
}

// awaitFinalization bounds the acceptor wait for the sequencer result.
// It spans the initiator submit window followed by the vault record and the relay.
func (r *Runner) awaitFinalization(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, finalizationWindows*r.timeout())
}

func (r *Runner) started() time.Time {
	r.Telemetry.IncrementCounter(runsTotalTelemetryCount)
	r.Telemetry.IncrementGauge(runsActiveTelemetryGauge)
	return time.Now()
}

func (r *Runner) finished(t time.Time, err error) {
	r.Telemetry.DecrementGauge(runsActiveTelemetryGauge)
	r.Telemetry.RecordHistogramTime(runDurationTelemetryHistogram, time.Since(t))
	if err != nil {
		r.Telemetry.IncrementCounter(runsFailedTelemetryCount)
	}
}

// aborted wraps transport failures and timeouts in ErrProtocolAbort.
func aborted(err error) error {
	if errors.Is(err, ErrProtocolAbort) {
		return err
	}
	return errors.Join(ErrProtocolAbort, err)
}

func commandFor(protocol string) transition.CommandKind {
	switch protocol {
	case ProtocolIssue:
		return transition.CommandCreate
	case ProtocolPay:
		return transition.CommandPay
	default:
		return 0
	}
}
