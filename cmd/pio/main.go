// pio is the worker-local CLI: the single-unit mirror of pios, acting
// directly on this unit's job registry and stores with no targeting
// step and no network hop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pioreactor/cluster-core/pkg/clibridge"
	"github.com/pioreactor/cluster-core/pkg/config"
	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/workerapi"
)

const appVersion = "25.8.1"

var settings config.Settings

func main() {
	rootCmd := &cobra.Command{
		Use:           "pio",
		Short:         "Control this Pioreactor unit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.Level(settings.LogLevel), JSONOutput: false})
	})

	rootCmd.PersistentFlags().StringVar(&settings.DataDir, "data-dir", "/home/pioreactor/.pioreactor", "Data directory")
	rootCmd.PersistentFlags().StringVar(&settings.LogLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().StringVar(&settings.UnitName, "unit", hostname(), "This unit's name")

	rootCmd.AddCommand(runCmd(), killCmd(), runningCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "pioreactor"
	}
	return h
}

// workerBridge builds the in-process worker bridge around this unit's
// registries.
func workerBridge() (*clibridge.Worker, func(), error) {
	local, err := localstore.Open(settings.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	tasks := taskqueue.New(0, 0)

	api := &workerapi.Server{
		Jobs:         workerapi.NewJobRegistry(),
		Settings:     workerapi.NewSettingsCache(),
		Calibrations: workerapi.NewCalibrationStore(settings.DataDir, local),
		Estimators:   workerapi.NewEstimatorStore(settings.DataDir, local),
		Sessions:     workerapi.NewSessionRegistry(),
		System:       workerapi.NewSystemManager(settings.DataDir, settings.UnitName, "", appVersion, false, tasks),
		Local:        local,
		Tasks:        tasks,
		AppVersion:   appVersion,
	}
	cleanup := func() {
		tasks.Stop()
		local.Close()
	}
	return &clibridge.Worker{API: api}, cleanup, nil
}

func runCmd() *cobra.Command {
	var experiment string
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Start a job on this unit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, cleanup, err := workerBridge()
			if err != nil {
				return err
			}
			defer cleanup()

			inv := clibridge.Invocation{
				JobOrAction: args[0],
				Args:        args[1:],
				Env:         map[string]string{"EXPERIMENT": experiment, "HOSTNAME": settings.UnitName},
			}
			task, err := w.Run(context.Background(), inv)
			if err != nil {
				return err
			}
			fmt.Println(task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&experiment, "experiment", "", "Experiment to run the job under")
	return cmd
}

func killCmd() *cobra.Command {
	var (
		jobName string
		exp     string
		allJobs bool
	)
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Stop jobs on this unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, cleanup, err := workerBridge()
			if err != nil {
				return err
			}
			defer cleanup()

			inv := clibridge.Invocation{JobOrAction: jobName, Options: map[string]string{}}
			if exp != "" {
				inv.Experiments = []string{exp}
			}
			stopped := w.Kill(inv, allJobs)
			fmt.Printf("stopped %d job(s)\n", stopped)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job-name", "", "Job name to stop")
	cmd.Flags().StringVar(&exp, "experiment", "", "Only stop jobs in this experiment")
	cmd.Flags().BoolVar(&allJobs, "all-jobs", false, "Stop every job")
	return cmd
}

func runningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "List running jobs on this unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, cleanup, err := workerBridge()
			if err != nil {
				return err
			}
			defer cleanup()
			return json.NewEncoder(os.Stdout).Encode(w.Running())
		},
	}
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
