package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "laterbench",
		Usage: "stress a deferred callback registry with concurrent producers",
	}

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			EnvVars: []string{"LATER_DEBUG"},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "add callbacks from concurrent producers and invoke them as they become due",
			Action: runBench,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "producers",
					Usage:   "number of concurrent producers",
					Value:   8,
					EnvVars: []string{"LATER_PRODUCERS"},
				},
				&cli.IntFlag{
					Name:    "callbacks",
					Usage:   "number of callbacks added by each producer",
					Value:   10_000,
					EnvVars: []string{"LATER_CALLBACKS"},
				},
				&cli.DurationFlag{
					Name:    "max-delay",
					Usage:   "upper bound of the random callback delay",
					Value:   time.Second,
					EnvVars: []string{"LATER_MAX_DELAY"},
				},
				&cli.StringFlag{
					Name:    "queue",
					Usage:   "queue implementation: skiplist or heap",
					Value:   queueSkipList,
					EnvVars: []string{"LATER_QUEUE"},
				},
				&cli.BoolFlag{
					Name:    "pump",
					Usage:   "consume like an event loop host, polling in batches of --max-batch",
					EnvVars: []string{"LATER_PUMP"},
				},
				&cli.IntFlag{
					Name:    "max-batch",
					Usage:   "callbacks invoked per pump",
					Value:   64,
					EnvVars: []string{"LATER_MAX_BATCH"},
				},
				&cli.StringFlag{
					Name:    "metrics-addr",
					Usage:   "serve prometheus metrics on this address, e.g. :9090",
					EnvVars: []string{"LATER_METRICS_ADDR"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runBench(cctx *cli.Context) error {
	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
	logger := slog.Default().With("source", "laterbench")

	ctx, cancel := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	if addr := cctx.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutting down metrics server", "error", err)
			}
		}()
	}

	rep, err := runBenchmark(ctx, logger, newMetrics(reg), config{
		Producers:   cctx.Int("producers"),
		PerProducer: cctx.Int("callbacks"),
		MaxDelay:    cctx.Duration("max-delay"),
		Queue:       cctx.String("queue"),
		Pump:        cctx.Bool("pump"),
		MaxBatch:    cctx.Int("max-batch"),
	})
	if err != nil {
		return fmt.Errorf("running benchmark: %w", err)
	}
	rep.log(logger)
	return nil
}
