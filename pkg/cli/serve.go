package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/policy"
	"github.com/m-mizutani/recollect/pkg/scheduler"
	"github.com/m-mizutani/recollect/pkg/server"
	"github.com/m-mizutani/recollect/pkg/usecase/ingest"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// serveConfig holds flags only used by the serve command
type serveConfig struct {
	addr            string
	workers         int64
	queueSize       int64
	policyDir       string
	shutdownTimeout time.Duration
}

// serverFlags returns flags for the HTTP server and scheduler with destination config
func serverFlags(cfg *serveConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       ":8000",
			Sources:     cli.EnvVars("LISTEN_ADDR"),
			Destination: &cfg.addr,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Number of conversations processed concurrently",
			Value:       scheduler.DefaultPoolSize,
			Sources:     cli.EnvVars("WORKERS"),
			Destination: &cfg.workers,
		},
		&cli.IntFlag{
			Name:        "queue-size",
			Usage:       "Number of conversations that may wait for a worker",
			Value:       scheduler.DefaultQueueSize,
			Sources:     cli.EnvVars("QUEUE_SIZE"),
			Destination: &cfg.queueSize,
		},
		&cli.StringFlag{
			Name:        "ingest-policy-dir",
			Usage:       "Directory of Rego files filtering inbound messages",
			Sources:     cli.EnvVars("INGEST_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "How long to wait for in-flight requests and queued messages on shutdown",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("SHUTDOWN_TIMEOUT"),
			Destination: &cfg.shutdownTimeout,
		},
	}
}

func serveCommand() *cli.Command {
	var (
		cfg      config
		serveCfg serveConfig
	)

	flags := serverFlags(&serveCfg)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, generatorFlags(&cfg)...)
	flags = append(flags, gatewayFlags(&cfg)...)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook service",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			return runServe(ctx, &cfg, &serveCfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config, serveCfg *serveConfig) error {
	logger := logging.From(ctx)

	// Initialize dependencies
	ingestPolicy, err := policy.Load(ctx, serveCfg.policyDir)
	if err != nil {
		return err
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(logging.Detach(ctx)); err != nil {
			logger.Error("failed to close repository", "error", err)
		}
	}()

	if err := repo.BuildIndices(ctx); err != nil {
		return goerr.Wrap(err, "failed to build memory store indices")
	}

	uc, err := cfg.newPipeline(ctx, repo)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(
		func(ctx context.Context, env *model.Envelope) {
			uc.Run(ctx, env)
		},
		scheduler.WithPoolSize(int(serveCfg.workers)),
		scheduler.WithQueueSize(int(serveCfg.queueSize)),
		scheduler.WithBaseContext(logging.Detach(ctx)),
	)
	if err != nil {
		return err
	}

	srv := server.New(
		ingest.New(sched, ingest.WithPolicy(ingestPolicy)),
		server.WithStats(uc),
		server.WithSchedulerMonitor(sched),
		server.WithServices(cfg.services()),
		server.WithShutdownTimeout(serveCfg.shutdownTimeout),
	)

	// Run until a signal arrives or the server fails
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(sigCtx)
	eg.Go(func() error {
		return srv.ListenAndServe(egCtx, serveCfg.addr)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("stopping service")
		return nil
	})

	serveErr := eg.Wait()

	// Drain queued messages before the repository closes
	drainCtx, cancel := context.WithTimeout(logging.Detach(ctx), serveCfg.shutdownTimeout)
	defer cancel()
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Warn("scheduler did not drain", "error", err, "stats", sched.Stats())
	}

	return serveErr
}
