package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Timesheet/aeswrapper"
	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/configuration"
	"github.com/bartossh/Timesheet/fileoperations"
	"github.com/bartossh/Timesheet/flow"
	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/logo"
	"github.com/bartossh/Timesheet/natsclient"
	"github.com/bartossh/Timesheet/node"
	"github.com/bartossh/Timesheet/nodeserver"
	"github.com/bartossh/Timesheet/notaryclient"
	"github.com/bartossh/Timesheet/oracle"
	"github.com/bartossh/Timesheet/repomongo"
	"github.com/bartossh/Timesheet/repository"
	"github.com/bartossh/Timesheet/stdoutwriter"
	"github.com/bartossh/Timesheet/storage"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/vault"
	"github.com/bartossh/Timesheet/wallet"
	"github.com/bartossh/Timesheet/webhooks"
	"github.com/bartossh/Timesheet/zincadapter"
)

const usage = `runs the Timesheet party node that issues and pays invoices with its counterparties`

const oracleTimeout = time.Second * 10

func main() {
	logo.Display()

	var file string
	var envFiles cli.StringSlice
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}
		return configuration.ReadWithEnv(file, envFiles.Value()...)
	}

	app := &cli.App{
		Name:  "node",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
			&cli.StringSliceFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Load secrets from env `FILE`",
				Destination: &envFiles,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			run(cfg)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg configuration.Configuration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("Error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("Error with logger: %s", err))
	}

	verifier := wallet.NewVerifier()

	writers := []io.Writer{&stdoutwriter.Logger{}}
	zinc, err := zincadapter.New(cfg.ZincLogger)
	switch {
	case err == nil:
		writers = append(writers, &zinc)
	case !errors.Is(err, zincadapter.ErrEmptyAddressProvided):
		fmt.Printf("Failed to connect to zincsearch due to %s, logging to stdout.\n", err)
	}
	var mongo *repomongo.DataBase
	if cfg.MongoLogger || cfg.VaultKind == configuration.VaultMongo {
		db, err := repomongo.Connect(ctx, cfg.Mongo, verifier)
		if err != nil {
			pterm.Error.Println(err.Error())
			return
		}
		defer db.Disconnect(context.Background())
		mongo = db
		if cfg.MongoLogger {
			writers = append(writers, db)
		}
	}
	log := logging.New(callbackOnErr, callbackOnFatal, writers...).WithComponent("node")

	h := fileoperations.New(cfg.FileOperator, aeswrapper.New())
	wlt, err := h.Wallet()
	if err != nil {
		log.Error(err.Error())
		return
	}

	tele, err := telemetry.Run(ctx, cancel, cfg.TelemetryPort)
	if err != nil {
		log.Error(err.Error())
		return
	}

	var store vault.Store
	switch cfg.VaultKind {
	case configuration.VaultMemory:
		store = vault.NewMemory(verifier)
	case configuration.VaultPostgres:
		db, err := repository.Connect(ctx, cfg.Database, verifier)
		if err != nil {
			log.Error(err.Error())
			return
		}
		defer db.Disconnect(context.Background())
		store = db
	case configuration.VaultMongo:
		store = mongo
	default:
		log.Error(fmt.Sprintf("unknown vault kind %q", cfg.VaultKind))
		return
	}

	checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg.CheckpointsPath, log)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer closeCheckpoints()

	seq := notaryclient.New(cfg.NotaryClient, verifier)
	if err := seq.ValidateApiVersion(ctx); err != nil {
		log.Error(err.Error())
		return
	}

	tr, err := natsclient.Connect(cfg.Nats, wlt.Address(), log)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.Error(err.Error())
		}
	}()

	n := node.New(cfg.Node, flow.Collaborators{
		Signer:      &wlt,
		Verifier:    verifier,
		Transport:   tr,
		Oracle:      oracle.NewClient(tr, cfg.OracleAddress, verifier, oracleTimeout),
		Sequencer:   seq,
		Vault:       store,
		Checkpoints: checkpoints,
		Telemetry:   tele,
		Log:         log,
	}, webhooks.New(log))

	go func() {
		if err := n.Serve(ctx); err != nil {
			log.Error(err.Error())
			cancel()
		}
	}()

	log.Info(fmt.Sprintf("party [ %s ] listening on port %v", n.Address(), cfg.NodeServer.Port))
	if err := nodeserver.Run(ctx, cfg.NodeServer, n, tele, log); err != nil {
		log.Error(err.Error())
	}
	time.Sleep(time.Second)
}

func openCheckpoints(ctx context.Context, path string, log logger.Logger) (checkpoint.Store, func(), error) {
	if path == "" {
		return checkpoint.NewMemory(), func() {}, nil
	}
	db, err := storage.CreateBadgerDB(ctx, path, log, false)
	if err != nil {
		return nil, nil, err
	}
	return checkpoint.NewBadger(db), func() { db.Close() }, nil
}
