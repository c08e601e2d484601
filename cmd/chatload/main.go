package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chatload/internal/app"
	"chatload/internal/config"
	"chatload/internal/logging"
	"chatload/pkg/types"
)

// errChecksFailed maps to exit status 1 without an extra error line
var errChecksFailed = errors.New("one or more required checks failed")

// options holds the persistent flags; only flags the user set override config
type options struct {
	configPath  string
	envFile     string
	logLevel    string
	logFormat   string
	baseURL     string
	vus         int
	duration    time.Duration
	iterations  int
	thinkTime   time.Duration
	dbPath      string
	metricsAddr string
	required    []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit status
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatload",
		Short:         "Synthetic load generator for a chat room REST + WebSocket API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (overrides environment)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading CHATLOAD_* variables")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.baseURL, "base-url", "", "base URL of the service under test")
	flags.IntVar(&opts.vus, "vus", 0, "number of concurrent virtual users")
	flags.DurationVar(&opts.duration, "duration", 0, "how long virtual users keep starting iterations")
	flags.IntVar(&opts.iterations, "iterations", 0, "iterations per virtual user (0 = until duration)")
	flags.DurationVar(&opts.thinkTime, "think-time", 0, "delay after each iteration")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite run history path (empty disables history)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	flags.StringSliceVar(&opts.required, "require", nil, "check names that must not fail (default: all checks)")

	root.AddCommand(
		newLoadCmd(opts, types.ScenarioHTTP, "http", "Run the signup -> login -> fetch users scenario"),
		newWSCmd(opts),
		newStubCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// loadConfig applies defaults < .env/environment < file < flags
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("base-url") {
		cfg.Target.BaseURL = opts.baseURL
	}
	if flags.Changed("vus") {
		cfg.Load.VirtualUsers = opts.vus
	}
	if flags.Changed("duration") {
		cfg.Load.Duration = opts.duration
	}
	if flags.Changed("iterations") {
		cfg.Load.Iterations = opts.iterations
	}
	if flags.Changed("think-time") {
		cfg.Load.HTTPThinkTime = opts.thinkTime
		cfg.Load.WSThinkTime = opts.thinkTime
	}
	if flags.Changed("db") {
		cfg.Database.Path = opts.dbPath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
}

func newLoadCmd(opts *options, kind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runLoad(cmd, cfg, kind, opts.required)
		},
	}
}

func newWSCmd(opts *options) *cobra.Command {
	var (
		sessionTimeout time.Duration
		room           string
		uniqueUsers    bool
	)

	cmd := newLoadCmd(opts, types.ScenarioRoom, "ws", "Run the two-user room scenario over WebSocket")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, opts)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("session-timeout") {
			cfg.WebSocket.SessionTimeout = sessionTimeout
			if cfg.WebSocket.HandshakeTimeout > sessionTimeout {
				cfg.WebSocket.HandshakeTimeout = sessionTimeout
			}
		}
		if cmd.Flags().Changed("room") {
			cfg.WebSocket.RoomName = room
		}
		if cmd.Flags().Changed("unique-users") {
			cfg.WebSocket.UniqueUsers = uniqueUsers
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runLoad(cmd, cfg, types.ScenarioRoom, opts.required)
	}

	cmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 0, "close each room socket after this long")
	cmd.Flags().StringVar(&room, "room", "", "name of the room user1 creates")
	cmd.Flags().BoolVar(&uniqueUsers, "unique-users", false, "suffix usernames per iteration to avoid signup conflicts")
	return cmd
}

func runLoad(cmd *cobra.Command, cfg *config.Config, kind string, required []string) error {
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Stop(context.Background()); err != nil {
			logger.WithError(err).Error("shutdown error")
		}
	}()

	if err := application.Start(cmd.Context()); err != nil {
		return err
	}

	report, runErr := application.Run(cmd.Context(), kind)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed(required...) {
		return errChecksFailed
	}
	return nil
}

func newStubCmd(opts *options) *cobra.Command {
	var (
		host  string
		port  int
		limit int
	)

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-process fake of the target chat service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Stub.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Stub.Port = port
			}
			if cmd.Flags().Changed("messages-per-minute") {
				cfg.Stub.MessagesPerMinute = limit
			}

			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			server, err := app.NewStubServer(cfg, logger)
			if err != nil {
				return err
			}
			if err := server.Start(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stub listening on %s\n", server.URL())

			<-cmd.Context().Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "stub listen host")
	cmd.Flags().IntVar(&port, "port", 0, "stub listen port (0 picks a free port)")
	cmd.Flags().IntVar(&limit, "messages-per-minute", 0, "cap room messages per user (0 = unlimited)")
	return cmd
}

func newRunsCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run's checks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg, logger)
			if err != nil {
				return err
			}
			defer application.Stop(context.Background())

			store, err := application.Store()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				report, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			}

			reports, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), reports)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 = all)")
	return cmd
}

// printReport writes the per-check pass/fail table
func printReport(out io.Writer, report *types.Report) {
	fmt.Fprintf(out, "run %s  scenario=%s  vus=%d  iterations=%d  elapsed=%s\n\n",
		report.RunID, report.Scenario, report.VirtualUsers, report.Iterations, report.Elapsed.Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tCHECK\tPASSES\tFAILS\tRATE")
	for _, check := range report.Checks {
		mark := "✓"
		if check.Fails > 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f%%\n", mark, check.Name, check.Passes, check.Fails, check.Rate()*100)
	}
	_ = w.Flush()
}

func printRuns(out io.Writer, reports []*types.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSCENARIO\tSTARTED\tVUS\tITERATIONS\tRESULT")
	for _, r := range reports {
		result := "pass"
		if r.Failed() {
			failed := make([]string, 0, len(r.Checks))
			for _, c := range r.Checks {
				if c.Fails > 0 {
					failed = append(failed, c.Name)
				}
			}
			result = "fail: " + strings.Join(failed, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Scenario, r.StartedAt.Local().Format(time.DateTime), r.VirtualUsers, r.Iterations, result)
	}
	_ = w.Flush()
}
