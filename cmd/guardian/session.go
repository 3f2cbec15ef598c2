package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/repo"
	"github.com/axiomesh/bounty-guardian/store"
	"github.com/axiomesh/bounty-guardian/watcher"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func dial(ctx context.Context, url string) (*ethclient.Client, error) {
	var client *ethclient.Client
	action := func(attempt uint) error {
		var err error
		client, err = ethclient.DialContext(ctx, url)
		return err
	}
	if err := retry.Retry(action, strategy.Limit(5), strategy.Backoff(backoff.Fibonacci(time.Second))); err != nil {
		return nil, errors.Wrapf(chain.ErrUnreachable, "dial %s: %s", url, err)
	}
	return client, nil
}

// oneShot is the environment of a single inspect or act command.
type oneShot struct {
	config *repo.Config
	client *ethclient.Client
	store  *store.Store
	env    *watcher.Env
	logger *logrus.Logger
}

func openOneShot(ctx *cli.Context) (*oneShot, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	r, err := repo.Load(p)
	if err != nil {
		return nil, err
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	client, err := dial(ctx.Context, r.Config.DialUrl)
	if err != nil {
		return nil, err
	}

	// a running daemon holds the store, the command then reads without cache
	st, err := store.Open(r.Config.StorePath())
	if err != nil {
		logger.WithError(err).Debug("open store")
		st = nil
	}

	env, err := watcher.NewEnv(ctx.Context, r.Config, client, st, logger, nil)
	if err != nil {
		client.Close()
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	env.Oracle.Refresh(ctx.Context)

	return &oneShot{config: r.Config, client: client, store: st, env: env, logger: logger}, nil
}

func (o *oneShot) Close() {
	if o.store != nil {
		_ = o.store.Close()
	}
	o.client.Close()
}

func printReading(w io.Writer, r core.Reading) {
	if !r.Valid {
		fmt.Fprintln(w, "Chain time:\tunavailable")
		return
	}
	fmt.Fprintf(w, "Chain time:\tblock %d, %s\n", r.Block, formatTime(r.Timestamp))
}

func formatTime(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func printActions(w io.Writer, order []core.Action, actions core.ActionMap) {
	fmt.Fprintln(w, "Actions:")
	for _, a := range order {
		fmt.Fprintf(w, "  %s\t%s\n", a, actions[a])
	}
}

func printEscrow(out io.Writer, v watcher.EscrowView) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	p := v.Batch.Proposal
	fmt.Fprintf(w, "Bounty:\t#%d\n", v.ID)
	fmt.Fprintf(w, "Phase:\t%s\n", v.Resolution.Phase)
	printReading(w, v.Now)
	if v.Degraded {
		fmt.Fprintf(w, "Degraded:\tlast refresh failed: %s\n", v.Err)
	}
	fmt.Fprintf(w, "Voting:\t%s - %s, %d topics\n", formatTime(p.StartTime), formatTime(p.EndTime), p.TopicCount)
	if p.WinnerTopicID != nil {
		fmt.Fprintf(w, "Winner:\ttopic %s owned by %s\n", p.WinnerTopicID, v.Batch.WinnerOwner.Hex())
	}
	fmt.Fprintf(w, "Pool:\t%s\n", p.RemainingPool)
	if p.HasChallenger() {
		fmt.Fprintf(w, "Challenger:\t%s\n", p.Challenger.Hex())
	}
	if d := v.Resolution.Deadline; d != nil {
		if d.Known {
			fmt.Fprintf(w, "Deadline:\t%s (%s left)\n", formatTime(d.At), time.Duration(d.Remaining)*time.Second)
		} else {
			fmt.Fprintf(w, "Deadline:\t%s (countdown unknown)\n", formatTime(d.At))
		}
	}
	fmt.Fprintf(w, "Allowance:\t%s\n", v.Batch.Allowance)
	printHistory(w, v.Batch.History, v.Batch.HistoryPartial)
	printActions(w, core.EscrowActions, v.Resolution.Actions)
}

func printGovernance(out io.Writer, v watcher.GovernanceView) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	p := v.Batch.Proposal
	fmt.Fprintf(w, "Proposal:\t%s\n", v.ID)
	fmt.Fprintf(w, "Phase:\t%s\n", v.Resolution.Phase)
	printReading(w, v.Now)
	if v.Degraded {
		fmt.Fprintf(w, "Degraded:\tlast refresh failed: %s\n", v.Err)
	}
	if p.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", firstLine(p.Description))
	}
	fmt.Fprintf(w, "Proposer:\t%s\n", p.Proposer.Hex())
	fmt.Fprintf(w, "Vote start:\t%s\n", formatBlockTime(v.Resolution.VoteStart))
	fmt.Fprintf(w, "Vote end:\t%s\n", formatBlockTime(v.Resolution.VoteEnd))
	if v.Batch.Eta != 0 {
		fmt.Fprintf(w, "Eta:\t%s\n", formatTime(v.Batch.Eta))
	}

	t := v.Resolution.Tally
	fmt.Fprintf(w, "For:\t%s (%.2f%%)\n", t.For, t.ForPercent)
	fmt.Fprintf(w, "Against:\t%s (%.2f%%)\n", t.Against, t.AgainstPercent)
	fmt.Fprintf(w, "Abstain:\t%s (%.2f%%)\n", t.Abstain, t.AbstainPercent)
	if t.QuorumKnown {
		fmt.Fprintf(w, "Quorum:\t%s (%.2f%%, reached %t)\n", t.Quorum, t.QuorumProgress, t.QuorumReached)
	} else {
		fmt.Fprintln(w, "Quorum:\tunknown")
	}

	var steps []string
	for _, s := range v.Resolution.Timeline.Steps {
		steps = append(steps, fmt.Sprintf("%s[%s]", s.State, s.Status))
	}
	fmt.Fprintf(w, "Timeline:\t%s\n", strings.Join(steps, " -> "))
	fmt.Fprintf(w, "Voted:\t%t, power %s\n", v.Batch.HasVoted, v.Batch.VotingPower)
	printHistory(w, v.Batch.History, v.Batch.HistoryPartial)
	printActions(w, core.GovernanceActions, v.Resolution.Actions)
}

func formatBlockTime(bt core.BlockTime) string {
	switch {
	case !bt.Known:
		return fmt.Sprintf("block %d, time unknown", bt.Block)
	case bt.Estimated:
		return fmt.Sprintf("block %d, ~%s", bt.Block, formatTime(bt.Timestamp))
	default:
		return fmt.Sprintf("block %d, %s", bt.Block, formatTime(bt.Timestamp))
	}
}

func printHistory(w io.Writer, events []core.Event, partial bool) {
	suffix := ""
	if partial {
		suffix = " (incomplete)"
	}
	fmt.Fprintf(w, "History:\t%d events%s\n", len(events), suffix)
	for _, e := range events {
		fmt.Fprintf(w, "  %d/%d\t%s\n", e.BlockNumber, e.LogIndex, e.Kind)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func actionNames(actions []core.Action) string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
