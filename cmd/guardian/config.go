package main

import (
	"fmt"
	"os"

	"github.com/axiomesh/bounty-guardian/repo"
	"github.com/urfave/cli/v2"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "Manage the guardian config file",
	Subcommands: []*cli.Command{
		{
			Name:   "generate",
			Usage:  "Write the default config into a new repo",
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Print the config with environment overrides applied",
			Action: show,
		},
		{
			Name:   "check",
			Usage:  "Check that the config parses and names valid contracts, ids and amounts",
			Action: check,
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Fold the GUARDIAN_ environment overrides into the config file",
			Action: rewriteWithEnv,
		},
	},
}

var errNoRepo = cli.Exit("guardian repo does not exist, run `guardian config generate` first", 1)

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if repo.Exist(p) {
		fmt.Printf("guardian repo already exists at %s\n", p)
		return nil
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return err
	}

	r := &repo.Repo{Config: repo.DefaultConfig(p)}
	if err := r.Flush(); err != nil {
		return err
	}
	fmt.Printf("initializing guardian at %s\n", p)
	return nil
}

// loadExisting loads the repo without creating one as a side effect.
func loadExisting(ctx *cli.Context) (*repo.Repo, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	if !repo.Exist(p) {
		return nil, errNoRepo
	}
	return repo.Load(p)
}

func show(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err != nil {
		return err
	}
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err == errNoRepo {
		return err
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("config file format error, please check: %s", err), 1)
	}
	if err := r.Config.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("config file is invalid, please check: %s", err), 1)
	}
	fmt.Println("config is valid")
	return nil
}

func rewriteWithEnv(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err != nil {
		return err
	}
	return r.Flush()
}

func getRootPath(ctx *cli.Context) (string, error) {
	return repo.LoadRepoRootFromEnv(ctx.String("repo"))
}
