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
	"github.com/bartossh/Timesheet/configuration"
	"github.com/bartossh/Timesheet/fileoperations"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/logo"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/notaryserver"
	"github.com/bartossh/Timesheet/repomongo"
	"github.com/bartossh/Timesheet/stdoutwriter"
	"github.com/bartossh/Timesheet/storage"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/wallet"
	"github.com/bartossh/Timesheet/zincadapter"
)

const usage = `runs the notary that sequences and signs transitions of the Timesheet parties`

func main() {
	logo.Display()

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}
		return configuration.ReadWithEnv(file)
	}

	app := &cli.App{
		Name:  "notary",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
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

	writers := []io.Writer{&stdoutwriter.Logger{}}
	zinc, err := zincadapter.New(cfg.ZincLogger)
	switch {
	case err == nil:
		writers = append(writers, &zinc)
	case !errors.Is(err, zincadapter.ErrEmptyAddressProvided):
		fmt.Printf("Failed to connect to zincsearch due to %s, logging to stdout.\n", err)
	}
	if cfg.MongoLogger {
		db, err := repomongo.Connect(ctx, cfg.Mongo, wallet.NewVerifier())
		if err != nil {
			fmt.Printf("Failed to connect to mongo logger due to %s, logging to stdout.\n", err)
		} else {
			defer db.Disconnect(context.Background())
			writers = append(writers, db)
		}
	}
	log := logging.New(callbackOnErr, callbackOnFatal, writers...).WithComponent("notary")

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

	db, err := storage.CreateBadgerDB(ctx, cfg.NotaryServer.DBPath, log, true)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer db.Close()

	seq := notary.New(db, &wlt, wallet.NewVerifier(), tele, log)
	log.Info(fmt.Sprintf("notary [ %s ] listening on port %v", seq.Address(), cfg.NotaryServer.Port))

	if err := notaryserver.Run(ctx, cfg.NotaryServer, seq, tele, log); err != nil {
		log.Error(err.Error())
	}
	time.Sleep(time.Second)
}
