package main

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/watcher"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var intentFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "key",
		Usage:    "Hex private key the intent is signed with",
		EnvVars:  []string{"GUARDIAN_KEY"},
		Required: true,
	},
	&cli.BoolFlag{
		Name:  "yes",
		Usage: "Send without asking for confirmation",
	},
}

var actCMD = &cli.Command{
	Name:  "act",
	Usage: "Check, send and confirm an action on a proposal",
	Subcommands: []*cli.Command{
		{
			Name:  "bounty",
			Usage: "Act on an escrowed bounty",
			Flags: append([]cli.Flag{
				&cli.Uint64Flag{Name: "id", Usage: "Bounty id", Required: true},
				&cli.StringFlag{Name: "action", Usage: "One of " + actionNames(append([]core.Action{core.ActionStake, core.ActionApprove}, core.EscrowActions...)), Required: true},
				&cli.Uint64Flag{Name: "topic", Usage: "Topic to stake on"},
				&cli.StringFlag{Name: "amount", Usage: "Stake or allowance amount in the token's smallest unit"},
				&cli.StringFlag{Name: "content-hash", Usage: "Delivery content hash"},
				&cli.StringFlag{Name: "reason-hash", Usage: "Challenge reason hash"},
				&cli.StringFlag{Name: "evidence-hash", Usage: "Challenge evidence hash"},
				&cli.BoolFlag{Name: "approve", Usage: "Approve the delivery when resolving a dispute"},
			}, intentFlags...),
			Action: actBounty,
		},
		{
			Name:  "governance",
			Usage: "Act on a governance proposal",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Proposal id, decimal or 0x hex", Required: true},
				&cli.StringFlag{Name: "action", Usage: "One of " + actionNames(core.GovernanceActions), Required: true},
				&cli.StringFlag{Name: "support", Usage: "Ballot option: for, against or abstain", Value: "for"},
				&cli.StringFlag{Name: "delegatee", Usage: "Address to delegate voting power to"},
			}, intentFlags...),
			Action: actGovernance,
		},
	},
}

func withSender(ctx *cli.Context, o *oneShot) (common.Address, error) {
	chainID := new(big.Int).SetUint64(o.config.ChainID)
	if o.config.ChainID == 0 {
		id, err := o.client.ChainID(ctx.Context)
		if err != nil {
			return common.Address{}, errors.Wrapf(chain.ErrUnreachable, "chain id: %s", err)
		}
		chainID = id
	}
	sender, err := chain.NewSubmitter(o.client, ctx.String("key"), chainID, o.config.Intent.ConfirmTimeout, o.logger, nil)
	if err != nil {
		return common.Address{}, err
	}
	o.env.Sender = sender
	return sender.From(), nil
}

// confirm asks on in unless yes is set. A decline is reported as a rejected
// intent.
func confirm(in io.Reader, yes bool, action core.Action, prompt string) error {
	if yes {
		return nil
	}
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err == nil || (err == io.EOF && line != "") {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return nil
		}
	}
	return &chain.IntentError{Kind: chain.ErrRejected, Action: action, Message: "declined at confirmation"}
}

// submit refuses locally denied actions before the user is asked, then
// sends and prints the outcome.
func submit(in io.Reader, yes bool, action core.Action, prompt string, preflight func() error, execute func() (*types.Receipt, error)) error {
	if err := preflight(); err != nil {
		printOutcome(action, nil, err)
		return err
	}
	if err := confirm(in, yes, action, prompt); err != nil {
		printOutcome(action, nil, err)
		return err
	}
	receipt, err := execute()
	printOutcome(action, receipt, err)
	return err
}

func printOutcome(action core.Action, receipt *types.Receipt, err error) {
	if err != nil {
		if ge, ok := core.IsGateError(err); ok {
			fmt.Printf("%s not sent: %s\n", action, ge.Reason)
			return
		}
		if ie, ok := chain.IsIntentError(err); ok {
			fmt.Printf("%s failed: %s: %s\n", action, ie.Kind, ie.Message)
			return
		}
		fmt.Printf("%s failed: %s\n", action, err)
		return
	}
	fmt.Printf("%s confirmed in block %s, tx %s\n", action, receipt.BlockNumber, receipt.TxHash.Hex())
}

func actBounty(ctx *cli.Context) error {
	action := core.Action(ctx.String("action"))
	amount, err := parseAmount(ctx.String("amount"))
	if err != nil {
		return err
	}
	req := watcher.EscrowRequest{
		Action:       action,
		TopicID:      ctx.Uint64("topic"),
		Amount:       amount,
		ContentHash:  common.HexToHash(ctx.String("content-hash")),
		ReasonHash:   common.HexToHash(ctx.String("reason-hash")),
		EvidenceHash: common.HexToHash(ctx.String("evidence-hash")),
		Approve:      ctx.Bool("approve"),
	}

	o, err := openOneShot(ctx)
	if err != nil {
		return err
	}
	defer o.Close()
	from, err := withSender(ctx, o)
	if err != nil {
		return err
	}

	id := ctx.Uint64("id")
	s := watcher.NewEscrowSession(o.env, id, from)
	defer s.Close()
	if err := s.Refresh(ctx.Context); err != nil {
		return err
	}

	prompt := fmt.Sprintf("Send %s on bounty #%d from %s?", action, id, from.Hex())
	err = submit(os.Stdin, ctx.Bool("yes"), action, prompt,
		func() error {
			_, err := s.Preflight(ctx.Context, req)
			return err
		},
		func() (*types.Receipt, error) { return s.Execute(ctx.Context, req) })

	if v, verr := s.View(); verr == nil {
		fmt.Println()
		printEscrow(os.Stdout, v)
	}
	return err
}

func parseSupport(raw string) (core.Support, error) {
	switch strings.ToLower(raw) {
	case "against":
		return core.SupportAgainst, nil
	case "for":
		return core.SupportFor, nil
	case "abstain":
		return core.SupportAbstain, nil
	}
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, errors.Errorf("invalid support %q", raw)
	}
	return core.Support(n), nil
}

func actGovernance(ctx *cli.Context) error {
	id, err := parseProposalID(ctx.String("id"))
	if err != nil {
		return err
	}
	support, err := parseSupport(ctx.String("support"))
	if err != nil {
		return err
	}
	action := core.Action(ctx.String("action"))
	req := watcher.GovernanceRequest{
		Action:    action,
		Support:   support,
		Delegatee: ctx.String("delegatee"),
	}

	o, err := openOneShot(ctx)
	if err != nil {
		return err
	}
	defer o.Close()
	from, err := withSender(ctx, o)
	if err != nil {
		return err
	}

	s := watcher.NewGovernanceSession(o.env, id, from)
	defer s.Close()
	if err := s.Refresh(ctx.Context); err != nil {
		return err
	}

	prompt := fmt.Sprintf("Send %s on proposal %s from %s?", action, id, from.Hex())
	if action == core.ActionCastVote {
		prompt = fmt.Sprintf("Vote %s on proposal %s from %s?", support, id, from.Hex())
	}
	err = submit(os.Stdin, ctx.Bool("yes"), action, prompt,
		func() error {
			_, err := s.Preflight(ctx.Context, req)
			return err
		},
		func() (*types.Receipt, error) { return s.Execute(ctx.Context, req) })

	if v, verr := s.View(); verr == nil {
		fmt.Println()
		printGovernance(os.Stdout, v)
	}
	return err
}
