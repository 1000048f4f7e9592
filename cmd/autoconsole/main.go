package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"autoconsole/internal/application"
	"autoconsole/internal/command"
	"autoconsole/internal/config"
	"autoconsole/internal/logging"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunConsole: runConsole,
		RunReplay:  runReplay,
		Out:        os.Stdout,
	})
	app.Version = version

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "autoconsole"}).Error("autoconsole failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "autoconsole"})
}

func runConsole(ctx context.Context, cfg config.Config, target prompt.Target) error {
	logger := newLogger(cfg)
	var echo io.Writer
	if cfg.Echo {
		echo = os.Stdout
	}
	app, err := application.StartApplication(ctx, application.StartOptions{
		Profile:     cfg.Profile,
		ProfileFile: cfg.ProfileFile,
		Target:      target,
		URI:         cfg.LibvirtURI,
		Domain:      cfg.Domain,
		Transport:   cfg.Transport,
		WSURL:       cfg.WSURL,
		SkipDomain:  cfg.SkipDomain,
		TmuxSocket:  cfg.TmuxSocket,
		KeepSession: cfg.KeepSession,
		DBPath:      cfg.DBPath,
		Echo:        echo,
		StatePoll:   cfg.StatePoll,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(context.Background()); err != nil {
			logger.Warn("close run log failed", "error", err)
		}
	}()
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runReplay(ctx context.Context, cfg config.Config, target prompt.Target, file string) (application.ReplayResult, error) {
	logger := newLogger(cfg)
	f, err := os.Open(file)
	if err != nil {
		return application.ReplayResult{}, err
	}
	defer f.Close()

	store, err := runlog.Open(cfg.DBPath, logger)
	if err != nil {
		return application.ReplayResult{}, fmt.Errorf("open run log: %w", err)
	}
	defer func() { _ = store.Close() }()

	return application.Replay(ctx, application.ReplayOptions{
		Profile:     cfg.Profile,
		ProfileFile: cfg.ProfileFile,
		Target:      target,
		Transcript:  f,
		Out:         os.Stdout,
		Store:       store,
		Logger:      logger,
	})
}
