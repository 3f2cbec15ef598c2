package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/axiomesh/axiom-kit/log"
	guardian "github.com/axiomesh/bounty-guardian"
	"github.com/axiomesh/bounty-guardian/repo"
	"github.com/axiomesh/bounty-guardian/watcher"
	"github.com/urfave/cli/v2"
)

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.Config.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	client, err := dial(ctx.Context, r.Config.DialUrl)
	if err != nil {
		return err
	}
	defer client.Close()

	w, err := watcher.New(ctx.Context, r.Config, client)
	if err != nil {
		return fmt.Errorf("new watcher error: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(w, &wg)

	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher failed: %w", err)
	}

	fmt.Println("=============Guardian is ready=============")

	wg.Wait()

	return nil
}

func printVersion() {
	fmt.Printf("Guardian version: %s-%s-%s\n", guardian.CurrentVersion, guardian.CurrentBranch, guardian.CurrentCommit)
	fmt.Printf("App build date: %s\n", guardian.BuildDate)
	fmt.Printf("System version: %s\n", guardian.Platform)
	fmt.Printf("Golang version: %s\n", guardian.GoVersion)
	fmt.Println()
}

func handleShutdown(w *watcher.Watcher, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		if err := w.Stop(); err != nil {
			fmt.Println("stop watcher:", err)
		}
		wg.Done()
	}()
}
