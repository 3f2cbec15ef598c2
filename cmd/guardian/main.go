package main

import (
	"fmt"
	"os"
	"time"

	guardian "github.com/axiomesh/bounty-guardian"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "Guardian"
	app.Usage = "Proposal lifecycle and action eligibility guardian for bounty escrow and governance"
	app.Version = guardian.CurrentVersion
	app.Compiled = time.Now()
	app.EnableBashCompletion = true

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "repo",
			Usage: "Guardian repo path, defaults to $GUARDIAN_PATH or ~/.guardian",
		},
	}

	app.Commands = []*cli.Command{
		configCMD,
		inspectCMD,
		actCMD,
		{
			Name:   "start",
			Usage:  "Watch the configured proposals until interrupted",
			Action: start,
		},
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "Print build and runtime versions",
			Action: func(ctx *cli.Context) error {
				printVersion()
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
