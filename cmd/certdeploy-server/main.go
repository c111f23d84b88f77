package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/hook"
	"github.com/cuemby/certdeploy/pkg/log"
	"github.com/cuemby/certdeploy/pkg/metrics"
	"github.com/cuemby/certdeploy/pkg/queue"
	"github.com/cuemby/certdeploy/pkg/scheduler"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
	"github.com/cuemby/certdeploy/pkg/worker"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath      string
		daemonMode      bool
		renewFlag       bool
		pushFlag        bool
		lineagePath     string
		domainsFlag     string
		logFilename     string
		logLevel        string
		sftpLogFilename string
		sftpLogLevel    string
		metricsAddr     string
	)

	rootCmd := &cobra.Command{
		Use:     "certdeploy-server",
		Short:   "Push renewed TLS lineages to configured certdeploy-client targets",
		Version: Version,
	}
	rootCmd.Flags().StringVar(&configPath, "config", envOr("CERTDEPLOY_SERVER_CONFIG", ""), "path to the server config file")
	rootCmd.Flags().BoolVar(&daemonMode, "daemon", envBoolOr("CERTDEPLOY_SERVER_DAEMON", false), "run the scheduler and push engine continuously")
	rootCmd.Flags().BoolVar(&renewFlag, "renew", envBoolOr("CERTDEPLOY_SERVER_RENEW_ONLY", false), "run one renewal cycle immediately")
	rootCmd.Flags().BoolVar(&pushFlag, "push", envBoolOr("CERTDEPLOY_SERVER_PUSH_ONLY", false), "drain the queue immediately")
	rootCmd.Flags().StringVar(&lineagePath, "lineage", "", "seed the queue with this lineage path before acting (mutually exclusive with --daemon)")
	rootCmd.Flags().StringVar(&domainsFlag, "domains", "", "space-separated domain list for --lineage (mutually exclusive with --daemon)")
	rootCmd.Flags().StringVar(&logFilename, "log-filename", envOr("CERTDEPLOY_SERVER_LOG_FILENAME", ""), "application log file path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", envOr("CERTDEPLOY_SERVER_LOG_LEVEL", ""), "application log level")
	rootCmd.Flags().StringVar(&sftpLogFilename, "sftp-log-filename", envOr("CERTDEPLOY_SERVER_SFTP_LOG_FILENAME", ""), "sftp transport log file path")
	rootCmd.Flags().StringVar(&sftpLogLevel, "sftp-log-level", envOr("CERTDEPLOY_SERVER_SFTP_LOG_LEVEL", ""), "sftp transport log level")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-listen-address", envOr("CERTDEPLOY_SERVER_METRICS_LISTEN_ADDRESS", ""), "host:port to expose Prometheus metrics on; empty disables it")

	exitCode := 0

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if daemonMode && (lineagePath != "" || domainsFlag != "") {
			exitCode = 2
			return errs.New(errs.KindConfigError, "--lineage/--domains are mutually exclusive with --daemon")
		}

		cfg, err := config.LoadServerConfig(configPath)
		if err != nil {
			exitCode = 2
			return err
		}
		config.ApplyLogOverrides(logFilename, logLevel, sftpLogFilename, sftpLogLevel,
			func(v string) { cfg.LogFilename = v },
			func(v string) { cfg.LogLevel = types.LogLevel(v) },
			func(v string) { cfg.SFTPLogFilename = v },
			func(v string) { cfg.SFTPLogLevel = types.LogLevel(v) },
		)
		if metricsAddr != "" {
			cfg.MetricsListenAddress = metricsAddr
		}

		sinks, err := log.Init(log.Config{
			AppFilename:  cfg.LogFilename,
			AppLevel:     cfg.LogLevel,
			SFTPFilename: cfg.SFTPLogFilename,
			SFTPLevel:    cfg.SFTPLogLevel,
		}, "server")
		if err != nil {
			exitCode = 2
			return err
		}

		q, err := queue.New(cfg.QueueDir)
		if err != nil {
			exitCode = 2
			return err
		}

		store, err := trust.NewStore(cfg.PrivateKeyPath)
		if err != nil {
			exitCode = 2
			return err
		}

		if lineagePath != "" || domainsFlag != "" {
			if lineagePath == "" || domainsFlag == "" {
				exitCode = 2
				return errs.New(errs.KindConfigError, "--lineage and --domains must be given together")
			}
			job := &types.PushJob{
				ID:          uuid.NewString(),
				LineagePath: lineagePath,
				LineageName: lineageNameFromPath(lineagePath),
				Domains:     strings.Fields(domainsFlag),
				EnqueuedAt:  time.Now(),
			}
			if err := q.Enqueue(job); err != nil {
				exitCode = 1
				return err
			}
		}

		if env := os.Getenv(hook.EnvRenewedLineage); env != "" {
			if err := hook.Run(processEnv(), q); err != nil {
				sinks.Tagged(err, "deploy hook failed")
				exitCode = 1
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if cfg.MetricsListenAddress != "" {
			metricsSrv := startMetricsServer(cfg.MetricsListenAddress, sinks.WithComponent("metrics"))
			defer metricsSrv.Close()
		}

		engine := worker.New(cfg, q, store, sinks.WithComponent("push"))

		var sched *scheduler.Scheduler
		if daemonMode || renewFlag {
			var onFatal func(error)
			if cfg.FailFast {
				onFatal = func(e error) { cancel() }
			}
			sched, err = scheduler.New(cfg, sinks.WithComponent("scheduler"), onFatal)
			if err != nil {
				exitCode = 2
				return err
			}
		}

		if renewFlag {
			if err := sched.RunNow(); err != nil {
				sinks.Tagged(err, "renewal run failed")
				if cfg.FailFast {
					exitCode = 1
					return err
				}
			}
		}

		if pushFlag || !daemonMode {
			if err := engine.Drain(); err != nil {
				sinks.Tagged(err, "push drain failed")
				exitCode = 1
				return err
			}
		}

		if daemonMode {
			sched.Start()
			defer sched.Stop()

			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					empty, err := q.IsEmpty()
					if err != nil {
						sinks.Tagged(err, "queue check failed")
						continue
					}
					if !empty {
						if err := engine.Drain(); err != nil {
							sinks.Tagged(err, "push drain failed")
							if cfg.FailFast {
								exitCode = 1
								return err
							}
						}
					}
				}
			}
		}

		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "certdeploy-server: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func processEnv() hook.Env {
	env := make(hook.Env)
	env[hook.EnvRenewedLineage] = os.Getenv(hook.EnvRenewedLineage)
	env[hook.EnvRenewedDomains] = os.Getenv(hook.EnvRenewedDomains)
	return env
}

// startMetricsServer mounts the Prometheus exposition handler on addr and
// serves it in the background. Listen errors are logged, not fatal: metrics
// exposure never gates core push/renewal logic.
func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("address", addr).Msg("metrics listener failed")
		}
	}()
	return srv
}

func lineageNameFromPath(p string) string {
	p = strings.TrimRight(p, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
