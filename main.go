package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/clitap/clitap/config"
	"github.com/clitap/clitap/consumer"
	"github.com/clitap/clitap/database"
	"github.com/clitap/clitap/hooks"
	"github.com/clitap/clitap/logging"
	"github.com/clitap/clitap/probe"
	"github.com/clitap/clitap/process"
	"github.com/clitap/clitap/sigma"
	"github.com/clitap/clitap/web"
)

func main() {
	app := &cli.App{
		Name:  "clitap",
		Usage: "trace a CLI's execs, connections, and API requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "target-comm",
				Usage: "process name to trace",
			},
			&cli.StringFlag{
				Name:  "bpf-object",
				Usage: "path to the compiled tracepoint object",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "directory for the sqlite database",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "web UI listen address (empty disables)",
			},
			&cli.StringFlag{
				Name:  "rules-dir",
				Usage: "sigma rules directory (empty disables detection)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "clitap: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("target-comm"); v != "" {
		cfg.TargetComm = v
	}
	if v := c.String("bpf-object"); v != "" {
		cfg.BPFObjectPath = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("rules-dir") {
		cfg.RulesDir = c.String("rules-dir")
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	// keep data readable by the invoking user when running under sudo
	if err := restoreDataOwnership(cfg.DataDir); err != nil {
		log.Debug("could not restore data ownership", zap.Error(err))
	}

	cache, err := process.NewCache(probe.MaxTrackedProcs)
	if err != nil {
		return err
	}

	var detector *sigma.Detector
	if cfg.RulesDir != "" {
		detector, err = sigma.NewDetector(cfg.RulesDir, log)
		if err != nil {
			return err
		}
		defer detector.Close()
	}

	p := probe.New(probe.Config{
		TargetComm:   cfg.TargetComm,
		RingCapacity: cfg.RingCapacity,
	})

	tracer, err := hooks.NewTracer(cfg.BPFObjectPath, p, log)
	if err != nil {
		return fmt.Errorf("failed to attach tracepoints: %w", err)
	}
	if tracer != nil {
		defer tracer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)

	cons := consumer.New(p, db, cache, detector, log, consumer.Config{
		SessionTimeout: cfg.SessionTimeout,
		StatsInterval:  cfg.StatsInterval,
	})
	go func() { errCh <- cons.Run(ctx) }()

	if tracer != nil {
		go func() { errCh <- tracer.Run(ctx) }()
		log.Info("capture started",
			zap.String("target_comm", cfg.TargetComm),
			zap.String("bpf_object", cfg.BPFObjectPath))
	}

	if cfg.ListenAddr != "" {
		srv := web.NewServer(db.Db, detector, p.Counters(), cfg.ListenAddr, log)
		go func() { errCh <- srv.Start(ctx) }()
		log.Info("web interface available", zap.String("addr", cfg.ListenAddr))
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
