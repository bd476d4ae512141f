package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/metrics"
	"github.com/zephyr-ci/zephyr/internal/observer"
	"github.com/zephyr-ci/zephyr/internal/scheduler"
	"github.com/zephyr-ci/zephyr/internal/store"
	"github.com/zephyr-ci/zephyr/internal/vmpool"
	"github.com/zephyr-ci/zephyr/internal/vmpool/hypervisor"
)

type serveOptions struct {
	Addr          string
	MaxConcurrent int
	PollInterval  time.Duration
	PoolMinIdle   int
	PoolMaxIdle   int
	PoolMaxTotal  int
}

// newServeCmd builds the long-lived server command: it wires the store,
// observer bus, metrics sink, warm pool, and scheduler together and keeps
// them running until it receives SIGINT/SIGTERM, exposing /health and
// /metrics for an HTTP edge to poll. The richer REST/webhook/websocket
// surface a production edge would offer is an external collaborator, not
// part of the orchestrator core this binary wires.
func newServeCmd(root *rootFlags, log *logger.Logger) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, warm pool, and observer bus as a long-lived process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), log, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "Address to serve /health and /metrics on")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", 8, "Maximum number of jobs running at once")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 2*time.Second, "Driver loop poll interval")
	cmd.Flags().IntVar(&opts.PoolMinIdle, "pool-min-idle", 2, "Warm pool minimum idle VM count")
	cmd.Flags().IntVar(&opts.PoolMaxIdle, "pool-max-idle", 4, "Warm pool maximum idle VM count")
	cmd.Flags().IntVar(&opts.PoolMaxTotal, "pool-max-total", 8, "Warm pool maximum total VM count")

	return cmd
}

func runServe(ctx context.Context, log *logger.Logger, opts serveOptions) error {
	st := store.NewMemory(time.Now)
	bus := observer.New(64)
	sink := metrics.New()

	pool := vmpool.New(vmpool.Config{
		MinIdle:             opts.PoolMinIdle,
		MaxIdle:             opts.PoolMaxIdle,
		MaxTotal:            opts.PoolMaxTotal,
		MaxIdleTime:         10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		Kernel:              "vmlinux",
		Rootfs:              "rootfs.ext4",
		CPU:                 2,
		MemoryMB:            2048,
		NATInterface:        "eth0",
	}, hypervisor.NewFake(), log.WithFields(map[string]any{"component": "vmpool"}), sink)

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start warm pool: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: opts.MaxConcurrent,
		PollInterval:  opts.PollInterval,
	}, st, bus, sink, pool, log.WithFields(map[string]any{"component": "scheduler"}), nil)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sink.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.CountJobsByStatus(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"running":       true,
			"activeJobs":    sched.ActiveJobCount(),
			"maxConcurrent": opts.MaxConcurrent,
			"queueStats":    counts,
		})
	})

	server := &http.Server{Addr: opts.Addr, Handler: mux}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("serving health and metrics", "addr", opts.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error(err, "http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	sched.Stop()
	return pool.Stop(shutdownCtx)
}
