package notaryserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Timesheet-Notary"
)

const (
	AliveURL   = "/alive"       // URL to check if server is alive and version.
	SubmitURL  = "/submit"      // URL to submit fully signed transition.
	ReceiptURL = "/receipt/:id" // URL to read receipt of committed transition.
	receiptURL = "/receipt/"
)

const (
	submitTelemetryHistogram  = "submit_request_duration"
	receiptTelemetryHistogram = "receipt_request_duration"
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

type sequencer interface {
	Address() string
	Submit(ctx context.Context, tx *transition.Transition) (notary.Receipt, error)
	Committed(ctx context.Context, id [32]byte) (notary.Receipt, error)
	Transition(ctx context.Context, id [32]byte) (transition.Transition, error)
}

// Config contains configuration of the server.
type Config struct {
	Port   int    `yaml:"port"`    // Port to listen on.
	DBPath string `yaml:"db_path"` // Committed transitions volume path, empty keeps it in memory.
}

type server struct {
	seq  sequencer
	tele *telemetry.Measurements
	log  logger.Logger
}

// ReceiptPath returns path of the receipt of the transition.
func ReceiptPath(id [32]byte) string {
	return receiptURL + transition.Hex(id)
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, seq sequencer, tele *telemetry.Measurements, log logger.Logger) error {
	if err := validateConfig(&c); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", c.Port))
	if err != nil {
		return err
	}
	return Serve(ctx, ln, seq, tele, log)
}

// Serve serves the notary API on the listener until the context is canceled.
func Serve(ctx context.Context, ln net.Listener, seq sequencer, tele *telemetry.Measurements, log logger.Logger) error {
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &server{seq: seq, tele: tele, log: log}
	s.tele.CreateUpdateObservableHistogtram(submitTelemetryHistogram, "Submit endpoint request duration on [ us ].")
	s.tele.CreateUpdateObservableHistogtram(receiptTelemetryHistogram, "Receipt endpoint request duration on [ us ].")

	router := s.router()

	errCh := make(chan error, 1)
	go func() {
		err := router.Listener(ln)
		if err != nil {
			s.log.Error(fmt.Sprintf("notary [ %s ] server stopped: %s", seq.Address(), err))
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
		WriteTimeout:          time.Second * 5,
		ServerHeader:          Header,
		AppName:               ApiVersion,
		Concurrency:           4096,
		DisableStartupMessage: true,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)
	router.Post(SubmitURL, s.submit)
	router.Get(ReceiptURL, s.receipt)

	return router
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	return nil
}
