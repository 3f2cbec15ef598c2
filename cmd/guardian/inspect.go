package main

import (
	"math/big"
	"os"

	"github.com/axiomesh/bounty-guardian/watcher"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var callerFlag = &cli.StringFlag{
	Name:  "caller",
	Usage: "Address to evaluate actions for, defaults to watch.caller",
}

var inspectCMD = &cli.Command{
	Name:  "inspect",
	Usage: "Show the phase, deadlines and action eligibility of a proposal",
	Subcommands: []*cli.Command{
		{
			Name:  "bounty",
			Usage: "Inspect an escrowed bounty",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "id", Usage: "Bounty id", Required: true},
				callerFlag,
			},
			Action: inspectBounty,
		},
		{
			Name:  "governance",
			Usage: "Inspect a governance proposal",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Proposal id, decimal or 0x hex", Required: true},
				callerFlag,
			},
			Action: inspectGovernance,
		},
	},
}

func parseCaller(raw, fallback string) (common.Address, error) {
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.Errorf("invalid caller address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseProposalID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(raw, 0)
	if !ok || id.Sign() <= 0 {
		return nil, errors.Errorf("invalid proposal id %q", raw)
	}
	return id, nil
}

func inspectBounty(ctx *cli.Context) error {
	o, err := openOneShot(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	caller, err := parseCaller(ctx.String("caller"), o.config.Watch.Caller)
	if err != nil {
		return err
	}
	s := watcher.NewEscrowSession(o.env, ctx.Uint64("id"), caller)
	defer s.Close()
	if err := s.Refresh(ctx.Context); err != nil {
		return err
	}
	v, err := s.View()
	if err != nil {
		return err
	}
	printEscrow(os.Stdout, v)
	return nil
}

func inspectGovernance(ctx *cli.Context) error {
	id, err := parseProposalID(ctx.String("id"))
	if err != nil {
		return err
	}
	o, err := openOneShot(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	caller, err := parseCaller(ctx.String("caller"), o.config.Watch.Caller)
	if err != nil {
		return err
	}
	s := watcher.NewGovernanceSession(o.env, id, caller)
	defer s.Close()
	if err := s.Refresh(ctx.Context); err != nil {
		return err
	}
	v, err := s.View()
	if err != nil {
		return err
	}
	printGovernance(os.Stdout, v)
	return nil
}
