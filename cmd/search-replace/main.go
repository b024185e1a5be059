package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johndauphine/db-search-replace/internal/config"
	"github.com/johndauphine/db-search-replace/internal/exitcodes"
	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/johndauphine/db-search-replace/internal/orchestrator"
	"github.com/johndauphine/db-search-replace/internal/progress"
	"github.com/johndauphine/db-search-replace/internal/serialized"
	"github.com/johndauphine/db-search-replace/internal/tui"
	"github.com/urfave/cli/v2"

	_ "github.com/johndauphine/db-search-replace/internal/driver/mssql"
	_ "github.com/johndauphine/db-search-replace/internal/driver/mysql"
	_ "github.com/johndauphine/db-search-replace/internal/driver/postgres"
	_ "github.com/johndauphine/db-search-replace/internal/driver/sqlite"
)

var version = "dev"

const progressInterval = 2 * time.Second

func main() {
	app := &cli.App{
		Name:    "search-replace",
		Usage:   "Resumable search and replace across database tables, safe for serialized values",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file (default: .env next to the config)",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of the configured backend (for cron/Airflow)",
			},
			&cli.StringFlag{
				Name:  "job-id",
				Usage: "Select a stored job instead of the active one (required to resume a failed job)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for JSON results
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the job to completion, pausing between budgeted invocations",
				Action: runJob,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Scan and report changes without writing to the database or state",
					},
					&cli.BoolFlag{
						Name:  "force-resume",
						Usage: "Resume even if the config has changed since the job started",
					},
					&cli.BoolFlag{
						Name:  "progress-json",
						Usage: "Emit JSON progress lines on stderr",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show a live terminal view while the job runs",
					},
				},
			},
			{
				Name:   "step",
				Usage:  "Run a single budgeted invocation and save the checkpoint (exit code 8 while work remains)",
				Action: stepJob,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force-resume",
						Usage: "Resume even if the config has changed since the job started",
					},
					&cli.BoolFlag{
						Name:  "progress-json",
						Usage: "Emit JSON progress lines on stderr",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show status of the active or last job",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List jobs, or the invocations of one job",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job",
						Usage: "Show invocations for a specific job ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of jobs to list",
					},
				},
			},
			{
				Name:   "reset",
				Usage:  "Discard the active job's checkpoint so the next run starts over",
				Action: resetJob,
			},
			{
				Name:   "check",
				Usage:  "Connect and introspect the configured tables without touching rows",
				Action: checkDatabase,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the check result as JSON",
					},
				},
			},
			{
				Name:   "inspect",
				Usage:  "Decode a serialized cell value and print its structure",
				Action: inspectValue,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "value",
						Required: true,
						Usage:    "Cell contents, plain or base64 wrapped",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		if code == exitcodes.Incomplete {
			fmt.Fprintln(os.Stderr, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if exitcodes.IsRecoverable(code) {
				fmt.Fprintf(os.Stderr, "Exit code %d: %s\n", code, exitcodes.Description(code))
			}
		}
		os.Exit(code)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, exitcodes.NewExitError(fmt.Errorf("configuration file not found: %s", configPath), exitcodes.ConfigError)
	}
	cfg, err := config.LoadWithOptions(configPath, config.LoadOptions{
		EnvFile:          c.String("env-file"),
		SuppressWarnings: c.Bool("output-json"),
	})
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("failed to load config: %w", err), exitcodes.ConfigError)
	}

	// Config settings apply unless the flag was given explicitly
	if cfg.Logging.Level != "" && !c.IsSet("verbosity") {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
		}
		logging.SetLevel(level)
	}
	if cfg.Logging.Format != "" && !c.IsSet("log-format") {
		logging.SetFormat(cfg.Logging.Format)
	}
	return cfg, nil
}

func newOrchestrator(c *cli.Context, cfg *config.Config, opts orchestrator.Options) (*orchestrator.Orchestrator, error) {
	opts.JobID = c.String("job-id")
	opts.StateFile = c.String("state-file")
	orch, err := orchestrator.New(cfg, opts)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("failed to create orchestrator: %w", err), exitcodes.StateError)
	}
	return orch, nil
}

func progressOptions(c *cli.Context) progress.Options {
	opts := progress.Options{Writer: os.Stderr}
	if c.Bool("progress-json") {
		opts.Reporter = progress.NewJSONReporter(os.Stderr, progressInterval)
	} else if !c.Bool("output-json") && !c.Bool("tui") {
		opts.Bar = progress.Interactive(os.Stderr)
	}
	return opts
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Saving checkpoint...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runJob(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("dry-run") {
		cfg.Job.DryRun = true
	}

	opts := orchestrator.Options{
		ForceResume: c.Bool("force-resume"),
		Progress:    progressOptions(c),
	}
	var monitor *tui.Monitor
	if c.Bool("tui") {
		monitor = tui.NewMonitor(cfg.Describe())
		opts.Observer = monitor
	}

	orch, err := newOrchestrator(c, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var (
		result *orchestrator.Result
		runErr error
	)
	if monitor != nil {
		result, runErr = monitor.Run(ctx, orch.Run)
	} else {
		result, runErr = orch.Run(ctx)
	}
	return finish(c, result, runErr)
}

func stepJob(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(c, cfg, orchestrator.Options{
		ForceResume: c.Bool("force-resume"),
		Progress:    progressOptions(c),
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, runErr := orch.Step(ctx)
	return finish(c, result, runErr)
}

// finish writes the JSON result when requested and maps the outcome to an
// exit code.
func finish(c *cli.Context, result *orchestrator.Result, runErr error) error {
	if result != nil && (c.Bool("output-json") || c.String("output-file") != "") {
		if runErr != nil && !errors.Is(runErr, orchestrator.ErrIncomplete) {
			result.Error = runErr.Error()
		}
		if err := outputJSON(c, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, orchestrator.ErrIncomplete):
		return exitcodes.NewExitError(runErr, exitcodes.Incomplete)
	case errors.Is(runErr, context.Canceled):
		return exitcodes.NewExitError(errors.New("interrupted, checkpoint saved"), exitcodes.Cancelled)
	}
	return runErr
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(c, cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	result, err := orch.Status(c.Context)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		if result == nil {
			result = &orchestrator.Result{Status: "no_active_job"}
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	orchestrator.PrintStatus(os.Stdout, result)
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(c, cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	if jobID := c.String("job"); jobID != "" {
		invs, err := orch.Invocations(c.Context, jobID)
		if err != nil {
			return err
		}
		orchestrator.PrintInvocations(os.Stdout, invs)
		return nil
	}

	jobs, err := orch.History(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	orchestrator.PrintHistory(os.Stdout, jobs)
	return nil
}

func resetJob(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(c, cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	jobID, err := orch.Reset(c.Context)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	if jobID == "" {
		fmt.Println("No job to reset")
		return nil
	}
	fmt.Printf("Reset job %s; the next run starts over\n", jobID)
	return nil
}

func checkDatabase(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(c, cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	result, err := orch.Check(c.Context)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal check result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printCheck(result)
	}

	switch {
	case !result.Connected:
		return exitcodes.NewExitError(errors.New(result.Error), exitcodes.ConnectionError)
	case !result.Healthy:
		return exitcodes.NewExitError(errors.New("one or more tables failed introspection"), exitcodes.ValidationError)
	}
	return nil
}

func printCheck(r *orchestrator.CheckResult) {
	if !r.Connected {
		fmt.Printf("Database:  %s\nConnected: no (%s)\n", r.Database, r.Error)
		return
	}
	fmt.Printf("Database:  %s\nConnected: yes (%dms)\n\n", r.Database, r.LatencyMs)
	fmt.Printf("%-30s %-8s %-8s %s\n", "Table", "Columns", "Paging", "Primary Key")
	for _, t := range r.Tables {
		if t.Error != "" {
			fmt.Printf("%-30s error: %s\n", t.Name, t.Error)
			continue
		}
		key := "-"
		if len(t.PrimaryKey) > 0 {
			key = fmt.Sprint(t.PrimaryKey)
		}
		fmt.Printf("%-30s %-8d %-8s %s\n", t.Name, t.Columns, t.Strategy, key)
	}
}

func inspectValue(c *cli.Context) error {
	v, wrapped, err := serialized.DecodeCell([]byte(c.String("value")))
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.ValidationError)
	}
	if wrapped {
		fmt.Println("(base64 wrapped)")
	}
	return serialized.Dump(os.Stdout, v)
}

// outputJSON writes the job result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result *orchestrator.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
