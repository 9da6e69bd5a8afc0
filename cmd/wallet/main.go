package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Timesheet/aeswrapper"
	"github.com/bartossh/Timesheet/configuration"
	"github.com/bartossh/Timesheet/fileoperations"
	"github.com/bartossh/Timesheet/logo"
	"github.com/bartossh/Timesheet/wallet"
)

const (
	actionFromPemToGob = iota
	actionFromGobToPem
	actionNewWallet
	actionReadAddress
)

const usage = `Wallet CLI tool creates the party wallet or transforms the local wallet between formats.
GOBINARY is sealed with a key derived from the wallet passphrase and is safer to move between machines.
The printed address identifies the party as contractor, company, oracle or notary.`

func main() {
	logo.Display()

	var pem, config string

	configurator := func() (configuration.Configuration, error) {
		if config == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}
		return configuration.ReadWithEnv(config)
	}

	command := func(action int) cli.ActionFunc {
		return func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			if err := run(action, pem, cfg.FileOperator); err != nil {
				return err
			}
			pterm.Info.Println("----------")
			pterm.Info.Println(" SUCCESS !")
			pterm.Info.Println("----------")
			return nil
		}
	}

	app := &cli.App{
		Name:  "wallet",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pem",
				Aliases:     []string{"p"},
				Usage:       "Load wallet from PEM `FILE` path. Your path shall look like that 'path/to/wallet' and the files are 'wallet' and 'wallet.pub'.",
				Destination: &pem,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &config,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "new",
				Aliases: []string{"n"},
				Usage:   "Creates new wallet and saves it to sealed GOBINARY file and PEM format.",
				Action:  command(actionNewWallet),
			},
			{
				Name:    "topem",
				Aliases: []string{"tp"},
				Usage:   "Reads GOBINARY and saves it to PEM file format.",
				Action:  command(actionFromGobToPem),
			},
			{
				Name:    "togob",
				Aliases: []string{"tg"},
				Usage:   "Reads PEM file format and saves it to sealed GOBINARY file format.",
				Action:  command(actionFromPemToGob),
			},
			{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Prints the address of the configured wallet.",
				Action:  command(actionReadAddress),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(action int, pem string, cfg fileoperations.Config) error {
	h := fileoperations.New(cfg, aeswrapper.New())
	switch action {
	case actionNewWallet:
		w, err := wallet.New()
		if err != nil {
			return err
		}
		if err := h.SaveWallet(&w); err != nil {
			return err
		}
		if err := h.SaveToPem(&w, pem); err != nil {
			return err
		}
		pterm.Info.Printf("Wallet address: %s\n", w.Address())
		return nil
	case actionFromGobToPem:
		w, err := h.ReadWallet()
		if err != nil {
			return err
		}
		return h.SaveToPem(&w, pem)
	case actionFromPemToGob:
		w, err := h.ReadFromPem(pem)
		if err != nil {
			return err
		}
		return h.SaveWallet(&w)
	case actionReadAddress:
		w, err := h.Wallet()
		if err != nil {
			return err
		}
		pterm.Info.Printf("Wallet address: %s\n", w.Address())
		return nil
	default:
		return errors.New("unimplemented action")
	}
}
