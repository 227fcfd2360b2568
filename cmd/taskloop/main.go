// Command taskloop runs a task agent against the local project. The agent
// lists and reads project files, writes content through the configured
// model, and terminates with an answer printed on stdout.
//
//	taskloop run --config taskloop.yaml --task "summarize the project layout"
//	taskloop check --config taskloop.yaml
//	taskloop runlog --config taskloop.yaml coder-5f0c...
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/taskloop/config"
	"goa.design/taskloop/features/oracle/llm"
	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/registry"
	"goa.design/taskloop/runtime/agent/runlog"
	"goa.design/taskloop/runtime/agent/runtime"
	"goa.design/taskloop/runtime/agent/telemetry"
	"goa.design/taskloop/runtime/agent/tools"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath string
		debug   bool
	)
	root := &cobra.Command{
		Use:           "taskloop",
		Short:         "Run a task agent against the local project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "taskloop.yaml", "configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log debug messages")

	// setup loads the configuration and returns a logging context canceled
	// on interrupt.
	setup := func(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx := logContext(cmd.Context(), cfg.Log, debug)
		ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		return ctx, cancel, cfg, nil
	}

	var task string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run a task and print the answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			task = strings.TrimSpace(task)
			if task == "" {
				if task, err = readTask(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read task: %w", err)
				}
			}
			if task == "" {
				return errors.New("provide a task with --task or on stdin")
			}
			answer, err := runTask(ctx, cfg, task)
			if err != nil {
				log.Errorf(ctx, err, "run failed")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	run.Flags().StringVar(&task, "task", "", "task to run (read from stdin when empty)")

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and ping the configured backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()
			if err := b.check(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	var pageSize int
	events := &cobra.Command{
		Use:   "runlog RUN_ID",
		Short: "Print the recorded events of a run as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			if cfg.RunLog.Backend != config.BackendMongo {
				return fmt.Errorf("runlog backend %q does not outlive a run", cfg.RunLog.Backend)
			}
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()
			evs, err := runlog.All(ctx, b.runlog, args[0], pageSize)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	events.Flags().IntVar(&pageSize, "page-size", 100, "events fetched per page")

	root.AddCommand(run, check, events)
	return root
}

// runTask wires the configured backends and runs task to completion.
func runTask(ctx context.Context, cfg *config.Config, task string) (string, error) {
	logger := telemetry.NewClueLogger()

	mc, err := newModelClient(ctx, cfg.Model, logger)
	if err != nil {
		return "", fmt.Errorf("model: %w", err)
	}
	oracle, err := llm.New(mc,
		llm.WithPersona(cfg.Agent.Persona),
		llm.WithMaxTokens(cfg.Model.MaxTokens),
		llm.WithTemperature(cfg.Model.Temperature),
		llm.WithLogger(logger))
	if err != nil {
		return "", fmt.Errorf("oracle: %w", err)
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer b.close()
	if err := b.check(ctx); err != nil {
		return "", err
	}

	var regOpts []registry.Option
	if len(cfg.Agent.Tools) > 0 {
		regOpts = append(regOpts, registry.WithNames(cfg.Agent.Tools...))
	}
	if len(cfg.Agent.Tags) > 0 {
		regOpts = append(regOpts, registry.WithTags(cfg.Agent.Tags...))
	}
	if cfg.Agent.Terminal != "" {
		regOpts = append(regOpts, registry.WithTerminal(cfg.Agent.Terminal))
	}
	reg, err := registry.New(catalogue(mc), regOpts...)
	if err != nil {
		return "", err
	}

	workdir := cfg.Agent.Workdir
	if workdir == "" {
		if workdir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	if workdir, err = filepath.Abs(workdir); err != nil {
		return "", err
	}

	opts := []runtime.Option{
		runtime.WithOverflow(b.overflow),
		runtime.WithLogger(logger),
		runtime.WithTracer(telemetry.NewOtelTracer()),
		runtime.WithMetrics(telemetry.NewOtelMetrics()),
		runtime.WithMaxIterations(cfg.Agent.MaxIterations),
		runtime.WithMaxRepeats(cfg.Agent.MaxRepeats),
		runtime.WithOverflowThreshold(cfg.Agent.OverflowThreshold),
		runtime.WithOracleAttempts(cfg.Agent.OracleAttempts),
		runtime.WithGoals(cfg.Agent.Goals),
		runtime.WithReplanOnFailure(cfg.Agent.ReplanOnFailure),
		runtime.WithToolContext(tools.Context{Properties: map[string]any{"workdir": workdir}}),
	}
	if b.runlog != nil {
		opts = append(opts, runtime.WithRunLog(b.runlog))
	}
	card := agent.Card{
		Name:        agent.Ident(cfg.Agent.Name),
		Persona:     cfg.Agent.Persona,
		Description: cfg.Agent.Description,
	}
	a, err := runtime.New(card, oracle, reg, opts...)
	if err != nil {
		return "", err
	}

	res, err := a.Run(ctx, task)
	if err != nil {
		return "", err
	}
	log.Print(ctx,
		log.KV{K: "msg", V: "run complete"},
		log.KV{K: "run_id", V: res.RunID},
		log.KV{K: "turns", V: res.Turns},
		log.KV{K: "stop", V: string(res.Stop)})
	return res.Answer, nil
}

// logContext configures clue logging from cfg.
func logContext(parent context.Context, cfg config.Log, debug bool) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	format := log.FormatJSON
	switch cfg.Format {
	case config.FormatTerminal:
		format = log.FormatTerminal
	case config.FormatAuto:
		if log.IsTerminal() {
			format = log.FormatTerminal
		}
	}
	ctx := log.Context(parent, log.WithFormat(format))
	if debug || cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

// readTask reads the task from r, one or more lines.
func readTask(r io.Reader) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
