// Command workernode runs a single partitioned transactional worker node:
// it registers with a coordinator, materializes its assigned partitions,
// and serves balance/transfer/2PC operations against them until signaled
// to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/thsergitox/bank-system-distributed/internal/config"
	"github.com/thsergitox/bank-system-distributed/internal/engine"
	"github.com/thsergitox/bank-system-distributed/internal/logging"
	"github.com/thsergitox/bank-system-distributed/internal/metrics"
	"github.com/thsergitox/bank-system-distributed/internal/regclient"
	"github.com/thsergitox/bank-system-distributed/internal/store"
	"github.com/thsergitox/bank-system-distributed/internal/taskserver"
	"github.com/thsergitox/bank-system-distributed/internal/txlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "workernode:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to optional YAML configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) != 4 {
		return fmt.Errorf("usage: workernode <workerId> <coordinatorHost> <coordinatorPort> <taskListenPort>")
	}
	workerID := args[0]
	coordinatorHost := args[1]
	coordinatorPort := args[2]
	taskListenPort, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid taskListenPort %q: %w", args[3], err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Component(logging.New(cfg.Logging.Level), "workernode").With().Str("worker_id", workerID).Logger()

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := m.Serve(ctx, cfg.Metrics.Addr, logging.Component(log, "metrics")); err != nil {
			log.Error().Err(err).Msg("metrics listener stopped unexpectedly")
		}
	}()

	dataDir := fmt.Sprintf("data_%s", workerID)
	st, err := store.New(dataDir, logging.Component(log, "store"))
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	tlog, err := txlog.New(filepath.Join(dataDir, "transacciones_locales.log"), workerID, logging.Component(log, "txlog"))
	if err != nil {
		return fmt.Errorf("initialize transaction log: %w", err)
	}

	log.Info().Str("coordinator", coordinatorHost+":"+coordinatorPort).Msg("starting registration handshake")
	result, err := regclient.Register(workerID, coordinatorHost, coordinatorPort, taskListenPort, st, cfg.Server.MaxFrameBytes, cfg.Server.RegistrationTimeout, logging.Component(log, "regclient"))
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	eng := engine.New(st, tlog, m, workerID, result.OwnedPartitions, logging.Component(log, "engine"))

	srv, err := taskserver.New(taskListenPort, cfg.Server.TaskPoolSize, cfg.Server.MaxAcceptRatePerSec, cfg.Server.MaxFrameBytes, eng, m, logging.Component(log, "taskserver"))
	if err != nil {
		return fmt.Errorf("bind task listener: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	log.Info().Int("port", taskListenPort).Int("partitions", len(result.OwnedPartitions)).Msg("worker ready, serving task requests")
	return srv.Serve(ctx)
}
