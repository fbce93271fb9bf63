package clicommand

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/deploy"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/metrics"
	"github.com/razumnyak/infractl/server"
	"github.com/razumnyak/infractl/storage"
	"github.com/razumnyak/infractl/updater"
	"github.com/razumnyak/infractl/version"
)

const runHelpDescription = `Usage:
  infractl run [options...]

Description:
   Starts infractl in the mode set by the configuration file. A home node
   serves the dashboard and watches its agents; an agent node collects
   metrics and runs deployments.

Example:

   $ infractl run --config /etc/infractl/config.yaml`

var RunCommand = cli.Command{
	Name:        "run",
	Usage:       "Run the infractl service",
	Description: runHelpDescription,
	Flags:       globalFlags(),
	Action: func(c *cli.Context) error {
		cfg, warnings, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		log, err := CreateLogger(c, cfg)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		for _, w := range warnings {
			log.Warn("%s", w)
		}

		log.Notice("infractl %s starting in %s mode", version.Version(), cfg.Mode)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var store *storage.Store
		if cfg.Modules.Storage.IsEnabled() {
			store, err = storage.Open(cfg.Modules.Storage.DBPath, log.WithPrefix("storage"))
			if err != nil {
				return cli.NewExitError(err, 1)
			}
			defer store.Close()
			go store.RunRetention(ctx, cfg.Modules.Storage.Retention, log.WithPrefix("storage"))
		}

		var collector *metrics.Collector
		if cfg.Modules.Metrics.Enabled == nil || *cfg.Modules.Metrics.Enabled {
			var probe *metrics.DockerProbe
			if cfg.Modules.Metrics.DockerStats == nil || *cfg.Modules.Metrics.DockerStats {
				probe = metrics.NewDockerProbe(log.WithPrefix("metrics"))
			}
			collector = metrics.NewCollector("/", probe)
			if store != nil {
				go runCollector(ctx, cfg, collector, store, log.WithPrefix("metrics"))
			}
		}

		queue := deploy.NewQueue(cfg.Modules.Deploy.MaxHistory)
		var (
			executor *deploy.Executor
			worker   *deploy.Worker
		)
		if cfg.Modules.Deploy.IsEnabled() {
			executor = deploy.NewExecutor(cfg.Modules.Deploy, log.WithPrefix("deploy"))
			var recorder deploy.Recorder
			if store != nil {
				recorder = store
			}
			worker = deploy.NewWorker(queue, executor, recorder, cfg.FindDeployment, log.WithPrefix("deploy"))
			go worker.Run(ctx)
		}

		if cfg.Mode == config.ModeHome && store != nil && len(cfg.Agents) > 0 {
			poller := &server.Poller{
				Agents: cfg.Agents,
				Secret: []byte(cfg.Auth.JWTSecret),
				Store:  store,
				Logger: log.WithPrefix("poller"),
			}
			go poller.Run(ctx)
		}

		if cfg.Updates.Enabled {
			up := updater.New(cfg.Updates, c.String("config"), log)
			go up.Run(ctx)
		}

		srv, err := server.New(cfg, store, queue, executor, collector, log)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		go handleSignals(cancel, log)

		err = srv.Run(ctx)

		if worker != nil {
			shutdownHooks(cfg, worker, log)
		}

		if err != nil {
			return cli.NewExitError(err, 1)
		}
		log.Notice("Goodbye")
		return nil
	},
}

func runCollector(ctx context.Context, cfg *config.Config, collector *metrics.Collector, store *storage.Store, log logger.Logger) {
	interval, err := config.ParseDuration(cfg.Modules.Metrics.CollectInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := collector.Collect(ctx)
			if err := store.InsertSnapshot("local", snap); err != nil {
				log.Error("Storing metrics sample: %v", err)
			}
		}
	}
}

func handleSignals(cancel context.CancelFunc, log logger.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-signals
	log.Notice("Received %v, shutting down", sig)
	cancel()
}

// shutdownHooks stops deployments that have something to stop: explicit
// hooks, or docker services to bring down. Bounded so a hung hook cannot
// block termination forever.
func shutdownHooks(cfg *config.Config, worker *deploy.Worker, log logger.Logger) {
	var withHooks []config.Deployment
	for _, d := range cfg.Modules.Deploy.Deployments {
		if len(d.Shutdown) > 0 || d.Type == config.DeployDockerPull {
			withHooks = append(withHooks, d)
		}
	}
	if len(withHooks) == 0 {
		return
	}

	log.Info("Running shutdown hooks for %d deployment(s)", len(withHooks))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	worker.ShutdownAll(ctx, withHooks, os.Stderr)
}
