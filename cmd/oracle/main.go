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
	"github.com/bartossh/Timesheet/natsclient"
	"github.com/bartossh/Timesheet/oracle"
	"github.com/bartossh/Timesheet/stdoutwriter"
	"github.com/bartossh/Timesheet/zincadapter"
)

const usage = `runs the rate oracle that answers rate queries and attests rates of the Timesheet invoices`

const sessionTimeout = time.Second * 10

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
		Name:  "oracle",
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
	log := logging.New(callbackOnErr, callbackOnFatal, writers...).WithComponent("oracle")

	h := fileoperations.New(cfg.FileOperator, aeswrapper.New())
	wlt, err := h.Wallet()
	if err != nil {
		log.Error(err.Error())
		return
	}

	rates, err := oracle.LoadRateTable(cfg.Oracle)
	if err != nil {
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

	svc := oracle.New(rates, &wlt, sessionTimeout, log)
	log.Info(fmt.Sprintf("oracle [ %s ] serving rates", svc.Address()))

	if err := svc.Serve(ctx, tr); err != nil {
		log.Error(err.Error())
	}
	time.Sleep(time.Second)
}
