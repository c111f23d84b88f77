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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/deploy"
	"github.com/cuemby/certdeploy/pkg/drivers"
	"github.com/cuemby/certdeploy/pkg/log"
	"github.com/cuemby/certdeploy/pkg/metrics"
	"github.com/cuemby/certdeploy/pkg/promote"
	"github.com/cuemby/certdeploy/pkg/runtime"
	"github.com/cuemby/certdeploy/pkg/sftpserver"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath      string
		daemonMode      bool
		logFilename     string
		logLevel        string
		sftpLogFilename string
		sftpLogLevel    string
		metricsAddr     string
	)

	rootCmd := &cobra.Command{
		Use:     "certdeploy-client",
		Short:   "Accept pushed TLS lineages and run configured update drivers",
		Version: Version,
	}
	rootCmd.Flags().StringVar(&configPath, "config", envOr("CERTDEPLOY_CLIENT_CONFIG", ""), "path to the client config file")
	rootCmd.Flags().BoolVar(&daemonMode, "daemon", envBoolOr("CERTDEPLOY_CLIENT_DAEMON", false), "run the SFTP server and orchestrator continuously")
	rootCmd.Flags().StringVar(&logFilename, "log-filename", envOr("CERTDEPLOY_CLIENT_LOG_FILENAME", ""), "application log file path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", envOr("CERTDEPLOY_CLIENT_LOG_LEVEL", ""), "application log level")
	rootCmd.Flags().StringVar(&sftpLogFilename, "sftp-log-filename", envOr("CERTDEPLOY_CLIENT_SFTP_LOG_FILENAME", ""), "sftp transport log file path")
	rootCmd.Flags().StringVar(&sftpLogLevel, "sftp-log-level", envOr("CERTDEPLOY_CLIENT_SFTP_LOG_LEVEL", ""), "sftp transport log level")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-listen-address", envOr("CERTDEPLOY_CLIENT_METRICS_LISTEN_ADDRESS", ""), "host:port to expose Prometheus metrics on; empty disables it")

	exitCode := 0

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClientConfig(configPath)
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
		}, "client")
		if err != nil {
			exitCode = 2
			return err
		}

		store, err := trust.NewStore(cfg.SFTPD.PrivateKeyPath)
		if err != nil {
			exitCode = 2
			return err
		}
		if err := store.Pin("server", cfg.SFTPD.ServerPubkey); err != nil {
			exitCode = 2
			return err
		}
		authorizedKey, err := trust.ParsePinnedKey(cfg.SFTPD.ServerPubkey)
		if err != nil {
			exitCode = 2
			return err
		}

		registry, err := buildRegistry(cfg)
		if err != nil {
			exitCode = 2
			return err
		}

		promoter := promote.New(cfg.Source, cfg.Destination, cfg.FilePermissions, sinks.WithComponent("promote"))
		orchestrator := deploy.New(promoter, registry, cfg.UpdateServices, cfg.FailFast, sinks.WithComponent("orchestrator"))

		sftpSrv, err := sftpserver.New(sftpserver.Config{
			ListenAddress: cfg.SFTPD.ListenAddress,
			ListenPort:    cfg.SFTPD.ListenPort,
			Username:      cfg.SFTPD.Username,
			HostKey:       store.Signer,
			AuthorizedKey: authorizedKey,
			Root:          cfg.Source,
			BannerTimeout: time.Duration(cfg.SFTPD.BannerTimeout) * time.Second,
		}, sinks.SFTP)
		if err != nil {
			exitCode = 2
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if cfg.MetricsListenAddress != "" {
			metricsSrv := startMetricsServer(cfg.MetricsListenAddress, sinks.WithComponent("metrics"))
			defer metricsSrv.Close()
		}

		errCh := make(chan error, 2)
		go func() {
			if err := sftpSrv.Serve(); err != nil {
				errCh <- err
			}
		}()
		go func() {
			if err := orchestrator.Run(ctx); err != nil {
				errCh <- err
			}
		}()

		if !daemonMode {
			// One-shot mode still needs both tasks running so a single
			// upload can be accepted, promoted and updated before exit.
			<-ctx.Done()
			sftpSrv.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			sftpSrv.Close()
			return nil
		case err := <-errCh:
			sftpSrv.Close()
			cancel()
			sinks.Tagged(err, "client daemon failed")
			exitCode = 1
			return err
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "certdeploy-client: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

// startMetricsServer mounts the Prometheus exposition handler on addr and
// serves it in the background. Listen errors are logged, not fatal: metrics
// exposure never gates promotion or update-driver logic.
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

func buildRegistry(cfg *config.ClientConfig) (*drivers.Registry, error) {
	reg := &drivers.Registry{
		InitUnit: &drivers.UnitDriver{Kind: types.UpdateKindInitUnit, Exec: cfg.SystemdExec, DefaultTimeout: secondsOrZero(cfg.InitTimeout)},
		RCUnit:   &drivers.UnitDriver{Kind: types.UpdateKindRCUnit, Exec: cfg.RCServiceExec, DefaultTimeout: secondsOrZero(cfg.InitTimeout)},
		Script:   &drivers.ScriptDriver{DefaultTimeout: secondsOrZero(cfg.ScriptTimeout)},
	}

	needsDocker := false
	for _, svc := range cfg.UpdateServices {
		if svc.Type == types.UpdateKindContainer || svc.Type == types.UpdateKindOrchestrator {
			needsDocker = true
		}
	}
	if needsDocker {
		dr, err := runtime.NewDockerRuntime(cfg.DockerURL)
		if err != nil {
			return nil, err
		}
		reg.Container = &drivers.ContainerDriver{Runtime: dr, DefaultTimeout: secondsOrZero(cfg.DockerTimeout)}
		reg.Orchestrator = &drivers.OrchestratorDriver{Runtime: dr, DefaultTimeout: secondsOrZero(cfg.DockerTimeout)}
	}
	return reg, nil
}

func secondsOrZero(v *int) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v) * time.Second
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
