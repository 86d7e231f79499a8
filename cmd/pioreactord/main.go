package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pioreactor/cluster-core/pkg/bus"
	"github.com/pioreactor/cluster-core/pkg/config"
	"github.com/pioreactor/cluster-core/pkg/health"
	"github.com/pioreactor/cluster-core/pkg/leaderapi"
	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/pluginregistry"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
	"github.com/pioreactor/cluster-core/pkg/workerapi"
)

const appVersion = "25.8.1"

var settings config.Settings

var (
	healthAddr string
	brokerUser string
	brokerPass string
	leaderHost string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pioreactord",
		Short: "Pioreactor cluster control plane daemon",
		Long:  `pioreactord hosts either the cluster leader (central store, /api surface, control bus command emission, task queue) or a worker (/unit_api surface, local calibrations and estimators, bus command subscriber).`,
	}

	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&settings.DataDir, "data-dir", "/home/pioreactor/.pioreactor", "Data directory")
	rootCmd.PersistentFlags().StringVar(&settings.BindAddr, "bind", ":80", "API bind address")
	rootCmd.PersistentFlags().StringVar(&settings.BrokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	rootCmd.PersistentFlags().StringVar(&settings.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&settings.LogJSON, "log-json", true, "Log in JSON format")
	rootCmd.PersistentFlags().StringVar(&settings.UnitName, "unit", hostname(), "This unit's name")
	rootCmd.PersistentFlags().StringVar(&healthAddr, "health-bind", ":9090", "Health/metrics bind address")
	rootCmd.PersistentFlags().StringVar(&brokerUser, "broker-username", "", "MQTT username")
	rootCmd.PersistentFlags().StringVar(&brokerPass, "broker-password", "", "MQTT password")
	rootCmd.PersistentFlags().StringVar(&leaderHost, "leader-hostname", "", "The leader's hostname (workers)")

	rootCmd.AddCommand(leaderCmd(), workerCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(settings.LogLevel),
		JSONOutput: settings.LogJSON,
	})
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "pioreactor"
	}
	return h
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the app version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(appVersion)
		},
	}
}

func leaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leader",
		Short: "Run the cluster leader",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeader()
		},
	}
}

func runLeader() error {
	logger := log.WithComponent("leader")

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(settings.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	b, err := bus.Connect(bus.Config{
		BrokerURL: settings.BrokerURL,
		ClientID:  settings.UnitName + "-leader",
		Username:  brokerUser,
		Password:  brokerPass,
	})
	if err != nil {
		return fmt.Errorf("connect control bus: %w", err)
	}
	defer b.Close()

	tasks := taskqueue.New(0, 0)
	defer tasks.Stop()

	uc := unitclient.New(unitclient.StaticResolver{}, 30*time.Second)
	orch := orchestrator.New(st, b, tasks, uc, settings.UnitName, appVersion)

	aggregator, err := orch.StartLogAggregator()
	if err != nil {
		return fmt.Errorf("start log aggregator: %w", err)
	}
	defer aggregator.Stop()

	registry, loadErrs := pluginregistry.Load(settings.DataDir + "/plugins")
	for _, e := range loadErrs {
		logger.Warn().Err(e).Msg("skipping malformed plugin manifest")
	}

	api := &leaderapi.Server{
		Orchestrator: orch,
		Store:        st,
		Tasks:        tasks,
		Plugins:      registry,
		DataDir:      settings.DataDir,
		AppVersion:   appVersion,
	}

	collector := metrics.NewCollector(st, tasks)
	collector.Start()
	defer collector.Stop()

	hs := health.NewServer(appVersion)
	hs.Register("store", func() error {
		_, err := st.Query(context.Background(), `SELECT 1`, true)
		return err
	})
	go func() {
		if err := hs.Start(healthAddr); err != nil {
			logger.Error().Err(err).Msg("health server exited")
		}
	}()
	defer hs.Stop()

	srv := &http.Server{
		Addr:         settings.BindAddr,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", settings.BindAddr).Msg("leader API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("leader API server exited")
		}
	}()

	waitForSignal(logger)
	return srv.Close()
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a worker unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	logger := log.WithComponent("worker")

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	local, err := localstore.Open(settings.DataDir)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()

	tasks := taskqueue.New(0, 0)
	defer tasks.Stop()

	jobs := workerapi.NewJobRegistry()
	settingsCache := workerapi.NewSettingsCache()

	sub, err := bus.ConnectSubscriber(bus.Config{
		BrokerURL: settings.BrokerURL,
		ClientID:  settings.UnitName + "-worker",
		Username:  brokerUser,
		Password:  brokerPass,
	}, settings.UnitName)
	if err != nil {
		return fmt.Errorf("connect control bus: %w", err)
	}
	defer sub.Close()

	err = sub.OnCommand(func(experiment, job, setting string, payload []byte) {
		if setting == "$state" {
			state := types.JobState(payload)
			jobs.Transition(job, experiment, state)
			if state == types.JobStateDisconnected {
				settingsCache.Forget(job)
			}
			return
		}
		settingsCache.Observe(job, setting, string(payload))
	})
	if err != nil {
		return fmt.Errorf("subscribe to command topics: %w", err)
	}

	registry, loadErrs := pluginregistry.Load(settings.DataDir + "/plugins")
	for _, e := range loadErrs {
		logger.Warn().Err(e).Msg("skipping malformed plugin manifest")
	}

	system := workerapi.NewSystemManager(settings.DataDir, settings.UnitName, leaderHost, appVersion, false, tasks)
	api := &workerapi.Server{
		Jobs:         jobs,
		Settings:     settingsCache,
		Calibrations: workerapi.NewCalibrationStore(settings.DataDir, local),
		Estimators:   workerapi.NewEstimatorStore(settings.DataDir, local),
		Sessions:     workerapi.NewSessionRegistry(),
		System:       system,
		Plugins: workerapi.NewPluginManager(settings.DataDir, tasks,
			func() ([]workerapi.InstalledPlugin, error) { return nil, nil },
			func(ctx context.Context, name, source string) error { return nil },
			func(ctx context.Context, name string) error { return nil },
		),
		Registry:     registry,
		Local:        local,
		Tasks:        tasks,
		AppVersion:   appVersion,
		Capabilities: map[string]bool{"stirring": true, "od_reading": true, "heating": true},
	}

	hs := health.NewServer(appVersion)
	go func() {
		if err := hs.Start(healthAddr); err != nil {
			logger.Error().Err(err).Msg("health server exited")
		}
	}()
	defer hs.Stop()

	srv := &http.Server{
		Addr:         settings.BindAddr,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", settings.BindAddr).Msg("worker API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("worker API server exited")
		}
	}()

	waitForSignal(logger)
	return srv.Close()
}

func waitForSignal(logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
}
