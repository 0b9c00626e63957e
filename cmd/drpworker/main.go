// Command drpworker runs work items out of process: either as an asynq
// queue consumer or once, from a Kubernetes Job.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/executor"
	"drpactor/pkg/executor/k8s"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"
	"drpactor/pkg/queue/asynq"
	"drpactor/pkg/store/db"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "drpworker",
		Short:         "Run PFS reduction work items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "config/config.yaml"), "configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Consume work items from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, runner, cleanup, err := setup(configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			return serve(cmd.Context(), cfg, runner)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exec",
		Short: "Run the work item in $" + k8s.EnvWorkItem + " and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := os.Getenv(k8s.EnvWorkItem)
			if payload == "" {
				return fmt.Errorf("%s is not set", k8s.EnvWorkItem)
			}
			_, runner, cleanup, err := setup(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := execItem(cmd.Context(), runner, payload, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if result.Status != model.StatusOK {
				return fmt.Errorf("work item failed with rc=%d", result.ReturnCode)
			}
			return nil
		},
	})
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setup loads the configuration, the logger and the datastore
func setup(configPath string) (*config.Config, interfaces.Runner, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	config.GlobalConfig = cfg
	if err := logger.InitWithConfig(cfg.Logger); err != nil {
		return nil, nil, nil, err
	}

	ds, err := db.NewDatastore(cfg.Datastore)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		ds.Close()
		logger.Sync()
	}
	return cfg, executor.NewRunnerFromConfig(cfg, db.NewDatasetRepository(ds)), cleanup, nil
}

func serve(ctx context.Context, cfg *config.Config, runner interfaces.Runner) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("serve requires redis.addr")
	}
	server := asynq.NewServer(cfg.Redis, cfg.Executor.Queue, runner)
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	server.Stop()
	return nil
}

// execItem runs one encoded item and writes its result as the last line of
// out, where the Job runner picks it up.
func execItem(ctx context.Context, runner interfaces.Runner, payload string, out io.Writer) (model.JobResult, error) {
	var item model.WorkItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return model.JobResult{}, fmt.Errorf("invalid work item: %w", err)
	}

	result := executor.RunSafely(ctx, runner, &item)
	logger.Sync()

	line, err := json.Marshal(result)
	if err != nil {
		return result, err
	}
	if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
		return result, err
	}
	return result, nil
}
