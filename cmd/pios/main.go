// pios is the leader-side cluster CLI: it resolves targeting the same
// way the leader API does and fans actions out to workers, without a
// network round-trip through the leader's own HTTP surface.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pioreactor/cluster-core/pkg/bus"
	"github.com/pioreactor/cluster-core/pkg/clibridge"
	"github.com/pioreactor/cluster-core/pkg/config"
	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
)

const appVersion = "25.8.1"

var settings config.Settings

// awaitTimeout bounds how long the CLI polls a fan-out task before
// giving up and exiting 1.
const awaitTimeout = 5 * time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:           "pios",
		Short:         "Control the Pioreactor cluster from the leader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.Level(settings.LogLevel), JSONOutput: false})
	})

	rootCmd.PersistentFlags().StringVar(&settings.DataDir, "data-dir", "/home/pioreactor/.pioreactor", "Data directory")
	rootCmd.PersistentFlags().StringVar(&settings.BrokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	rootCmd.PersistentFlags().StringVar(&settings.LogLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().StringVar(&settings.UnitName, "unit", hostname(), "The leader's unit name")

	rootCmd.AddCommand(
		runCmd(), killCmd(), syncConfigsCmd(), updateCmd(),
		pluginsCmd(), cpCmd(), rmCmd(), powerCmd("reboot"), powerCmd("shutdown"),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "leader"
	}
	return h
}

// bridge builds the in-process leader bridge: store + task queue + unit
// client, with the bus attached when the broker is reachable (a bus
// failure degrades to direct HTTP commands rather than aborting).
func bridge() (*clibridge.Leader, func(), error) {
	st, err := store.NewSQLiteStore(settings.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	b, err := bus.Connect(bus.Config{
		BrokerURL: settings.BrokerURL,
		ClientID:  settings.UnitName + "-pios",
	})
	if err != nil {
		piosLog := log.WithComponent("pios")
		piosLog.Warn().Err(err).Msg("control bus unreachable; falling back to direct HTTP commands")
		b = nil
	}

	tasks := taskqueue.New(0, 0)
	uc := unitclient.New(unitclient.StaticResolver{}, 30*time.Second)
	orch := orchestrator.New(st, b, tasks, uc, settings.UnitName, appVersion)

	cleanup := func() {
		tasks.Stop()
		if b != nil {
			b.Close()
		}
		st.Close()
	}
	return &clibridge.Leader{Orch: orch}, cleanup, nil
}

// confirm prompts unless yes is set; a declined prompt exits 1 per the
// CLI contract.
func confirm(prompt string, yes bool) {
	if yes {
		return
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
		fmt.Fprintln(os.Stderr, "aborted")
		os.Exit(1)
	}
}

// awaitAndExit polls the task and exits 1 on any per-unit failure.
func awaitAndExit(l *clibridge.Leader, cleanup func(), task *types.Task, jsonOut bool) {
	ok, err := l.Await(task, awaitTimeout)
	if err != nil {
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if jsonOut {
		current, _ := l.Orch.Tasks.Get(task.ID)
		_ = json.NewEncoder(os.Stdout).Encode(current)
	}
	cleanup()
	if !ok {
		os.Exit(1)
	}
}

// parseRunArgs splits a run invocation's raw argument list into the job
// name, known flags, and pass-through job options (--<flag> <val>).
func parseRunArgs(args []string) (inv clibridge.Invocation, jsonOut, yes bool, err error) {
	inv.Options = map[string]string{}
	inv.Env = map[string]string{}

	positional := []string{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--json":
			jsonOut = true
		case a == "-y" || a == "--yes":
			yes = true
		case a == "--units" || a == "--experiments":
			if i+1 >= len(args) {
				return inv, false, false, fmt.Errorf("%s requires a value", a)
			}
			i++
			if a == "--units" {
				inv.Units = append(inv.Units, args[i])
			} else {
				inv.Experiments = append(inv.Experiments, args[i])
			}
		case strings.HasPrefix(a, "--"):
			flag := strings.TrimPrefix(a, "--")
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				i++
				inv.Options[flag] = args[i]
			} else {
				inv.Options[flag] = ""
			}
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) == 0 {
		return inv, false, false, fmt.Errorf("a job name is required")
	}
	inv.JobOrAction = positional[0]
	inv.Args = positional[1:]
	return inv, jsonOut, yes, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "run <job> [--units <u>]* [--experiments <e>]* [--json] [-y] [--<flag> <val>]*",
		Short:              "Start a job across the cluster",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, jsonOut, yes, err := parseRunArgs(args)
			if err != nil {
				return err
			}
			confirm(fmt.Sprintf("Run %s on the targeted units?", inv.JobOrAction), yes)

			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			tasks, err := l.Run(context.Background(), inv)
			if err != nil {
				cleanup()
				return err
			}
			failed := false
			for _, task := range tasks {
				ok, err := l.Await(task, awaitTimeout)
				if err != nil || !ok {
					failed = true
				}
				if jsonOut {
					current, _ := l.Orch.Tasks.Get(task.ID)
					_ = json.NewEncoder(os.Stdout).Encode(current)
				}
			}
			cleanup()
			if failed {
				os.Exit(1)
			}
			return nil
		},
	}
}

func killCmd() *cobra.Command {
	var (
		jobName   string
		jobSource string
		exp       string
		allJobs   bool
		units     []string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Stop jobs across the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm("Stop the matching jobs?", yes)
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			inv := clibridge.Invocation{JobOrAction: jobName, Units: units, Options: map[string]string{}}
			if exp != "" {
				inv.Experiments = []string{exp}
			}
			if jobSource != "" {
				inv.Options["job-source"] = jobSource
			}
			task, err := l.Kill(context.Background(), inv, allJobs)
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job-name", "", "Job name to stop")
	cmd.Flags().StringVar(&jobName, "job", "", "Alias of --job-name")
	cmd.Flags().StringVar(&jobSource, "job-source", "", "Only stop jobs from this source")
	cmd.Flags().StringVar(&exp, "experiment", "", "Only stop jobs in this experiment")
	cmd.Flags().BoolVar(&allJobs, "all-jobs", false, "Stop every job")
	cmd.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func syncConfigsCmd() *cobra.Command {
	var shared, specific, skipSave bool
	cmd := &cobra.Command{
		Use:   "sync-configs",
		Short: "Distribute stored configs to the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			// --shared/--specific narrow the sync; default pushes both.
			if !shared && !specific {
				shared, specific = true, true
			}
			_ = skipSave
			task, err := l.SyncConfigs(context.Background(), shared, specific)
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().BoolVar(&shared, "shared", false, "Sync the shared config.ini only")
	cmd.Flags().BoolVar(&specific, "specific", false, "Sync per-unit configs only")
	cmd.Flags().BoolVar(&skipSave, "skip-save", false, "Do not re-save configs before distributing")
	return cmd
}

func updateCmd() *cobra.Command {
	var branch, version, source, repo string
	var units []string
	cmd := &cobra.Command{
		Use:       "update {app|ui}",
		Short:     "Update the app or UI across the cluster",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"app", "ui"},
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			inv := clibridge.Invocation{Units: units, Options: map[string]string{}}
			if branch != "" {
				inv.Options["branch"] = branch
			}
			if version != "" {
				inv.Options["version"] = version
			}
			if source != "" {
				inv.Options["source"] = source
			}
			if repo != "" {
				inv.Options["repo"] = repo
			}
			task, err := l.Update(context.Background(), inv, args[0])
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Install from this branch")
	cmd.Flags().StringVarP(&version, "version", "v", "", "Install this version")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Install from this source")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Install from this repository")
	cmd.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
	return cmd
}

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage plugins across the cluster",
	}
	for _, action := range []string{"install", "uninstall"} {
		action := action
		var source string
		var units []string
		sub := &cobra.Command{
			Use:   action + " <name>",
			Short: titleCase(action) + " a plugin on the targeted units",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				l, cleanup, err := bridge()
				if err != nil {
					return err
				}
				inv := clibridge.Invocation{Units: units}
				task, err := l.Plugins(context.Background(), inv, action == "install", args[0], source)
				if err != nil {
					cleanup()
					return err
				}
				awaitAndExit(l, cleanup, task, false)
				return nil
			},
		}
		sub.Flags().StringVar(&source, "source", "", "Install from this source URL")
		sub.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
		cmd.AddCommand(sub)
	}
	return cmd
}

func cpCmd() *cobra.Command {
	var units []string
	cmd := &cobra.Command{
		Use:   "cp <path>",
		Short: "Copy a leader-local file to the targeted units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			task, err := l.Cp(context.Background(), clibridge.Invocation{Units: units}, args[0], data)
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
	return cmd
}

func rmCmd() *cobra.Command {
	var units []string
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file from the targeted units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm(fmt.Sprintf("Remove %s on the targeted units?", args[0]), yes)
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			task, err := l.Rm(context.Background(), clibridge.Invocation{Units: units}, args[0])
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func powerCmd(action string) *cobra.Command {
	var units []string
	var yes bool
	cmd := &cobra.Command{
		Use:   action,
		Short: titleCase(action) + " the targeted units",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm(fmt.Sprintf("%s the targeted units?", titleCase(action)), yes)
			l, cleanup, err := bridge()
			if err != nil {
				return err
			}
			task, err := l.Power(context.Background(), clibridge.Invocation{Units: units}, action)
			if err != nil {
				cleanup()
				return err
			}
			awaitAndExit(l, cleanup, task, false)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&units, "units", nil, "Target units (repeatable)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
