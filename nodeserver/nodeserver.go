package nodeserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/flow"
	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/node"
	"github.com/bartossh/Timesheet/reactive"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/webhooks"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Timesheet-Party"
)

const (
	invoicesURL = "/invoices"
	runsURL     = "/runs"
)

const (
	AliveURL       = "/alive"                 // URL to check if server is alive and version.
	AddressURL     = "/address"               // URL to read the party address.
	InvoicesURL    = invoicesURL              // URL to issue invoice (POST) or list invoices (GET), filtered with ?paid=true|false.
	PayURL         = invoicesURL + "/:id/pay" // URL to pay the invoice with the linear id.
	SettlementsURL = "/settlements"           // URL to list settlements of the party.
	RunsURL        = runsURL                  // URL to list protocol runs.
	ResumeURL      = runsURL + "/:id/resume"  // URL to resume the checkpointed run.
	WebhooksURL    = "/webhooks"              // URL to create (POST) or remove (DELETE) a webhook.
	WsURL          = "/ws"                    // URL to connect to the websocket feed of recorded transitions.
)

const (
	issueTelemetryHistogram = "issue_request_duration"
	payTelemetryHistogram   = "pay_request_duration"
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

type party interface {
	Address() string
	Issue(ctx context.Context, req flow.IssueRequest) (flow.Outcome, error)
	Pay(ctx context.Context, linearID uuid.UUID) (flow.Outcome, error)
	Resume(ctx context.Context, runID string) (flow.Outcome, error)
	Runs(ctx context.Context) ([]checkpoint.Record, error)
	Invoices(ctx context.Context, paid *bool) ([]transition.StateAndRef, error)
	Settlements(ctx context.Context) ([]transition.StateAndRef, error)
	Subscribe() *reactive.Subscriber[node.Recorded]
	Hooks() *webhooks.Service
}

// Config contains configuration of the server.
type Config struct {
	Port int `yaml:"port"` // Port to listen on.
}

type server struct {
	ctx   context.Context
	party party
	tele  *telemetry.Measurements
	log   logger.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, p party, tele *telemetry.Measurements, log logger.Logger) error {
	if err := validateConfig(&c); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", c.Port))
	if err != nil {
		return err
	}
	return Serve(ctx, ln, p, tele, log)
}

// Serve serves the party API on the listener until the context is canceled.
func Serve(ctx context.Context, ln net.Listener, p party, tele *telemetry.Measurements, log logger.Logger) error {
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &server{ctx: ctxx, party: p, tele: tele, log: log}
	s.tele.CreateUpdateObservableHistogtram(issueTelemetryHistogram, "Issue endpoint request duration on [ us ].")
	s.tele.CreateUpdateObservableHistogtram(payTelemetryHistogram, "Pay endpoint request duration on [ us ].")

	router := s.router()

	errCh := make(chan error, 1)
	go func() {
		err := router.Listener(ln)
		if err != nil {
			s.log.Error(fmt.Sprintf("party [ %s ] server stopped: %s", p.Address(), err))
			cancel()
		}
		errCh <- err
	}()

	<-ctxx.Done()

	err := router.Shutdown()
	return errors.Join(err, <-errCh)
}

func (s *server) router() *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:               false,
		CaseSensitive:         true,
		StrictRouting:         true,
		ReadTimeout:           time.Second * 5,
		WriteTimeout:          time.Minute,
		ServerHeader:          Header,
		AppName:               ApiVersion,
		Concurrency:           4096,
		DisableStartupMessage: true,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)
	router.Get(AddressURL, s.address)
	router.Post(InvoicesURL, s.issue)
	router.Get(InvoicesURL, s.invoices)
	router.Post(PayURL, s.pay)
	router.Get(SettlementsURL, s.settlements)
	router.Get(RunsURL, s.runs)
	router.Post(ResumeURL, s.resume)
	router.Post(WebhooksURL, s.createWebhook)
	router.Delete(WebhooksURL, s.removeWebhook)
	router.Use(WsURL, s.upgrade)
	router.Get(WsURL, s.ws())

	return router
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	return nil
}
