package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/telemetry"
	"github.com/davidleathers/interaction-analytics/internal/service"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

// builder assembles the services a command runs against
type builder func(ctx context.Context, cfg *config.Config) (*service.Services, error)

func buildServices(ctx context.Context, cfg *config.Config) (*service.Services, error) {
	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, err
	}
	return service.NewServiceFactories(cfg, logger.Named("iactl"), nil).Build(ctx)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(buildServices).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(build builder) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "iactl",
		Short: "Query and append interaction events",
		Long: `iactl runs analytics queries and appends events against the event store
named in the configuration. Queries take the same parameters as
GET /api/v1/query.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	root.CompletionOptions.DisableDefaultCmd = true

	withServices := func(cmd *cobra.Command, fn func(*service.Services) error) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		services, err := build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer services.Close()
		return fn(services)
	}

	root.AddCommand(newQueryCmd(withServices), newAppendCmd(withServices))
	return root
}

type servicesRunner func(cmd *cobra.Command, fn func(*service.Services) error) error

func newQueryCmd(run servicesRunner) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run an analytics query",
		Example: `  iactl query -p action=click -p aggregate="2006-01-02 15" -p 'buy=buy:.*'
  iactl query -p subject=U1 -p correlate='login::andSubject::session=(\w+)'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			return run(cmd, func(s *service.Services) error {
				result, err := s.Analytics.RunQuery(cmd.Context(), values)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter as key=value (repeatable)")
	return cmd
}

func newAppendCmd(run servicesRunner) *cobra.Command {
	var (
		req       ingest.AppendRequest
		timestamp int64
	)

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("timestamp") {
				req.Timestamp = &timestamp
			}
			return run(cmd, func(s *service.Services) error {
				event, err := s.Ingest.Append(cmd.Context(), &req)
				if err != nil {
					return err
				}
				return printJSON(cmd, event)
			})
		},
	}
	cmd.Flags().StringVar(&req.SubjectID, "subject", "", "Subject id")
	cmd.Flags().StringVar(&req.ObjectID, "object", "", "Object id")
	cmd.Flags().StringVar(&req.Action, "action", "", "Action name")
	cmd.Flags().StringVar(&req.Message, "message", "", "Free-text message")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Milliseconds since epoch (default now)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// parseParams turns key=value pairs into query values. Only the first = splits.
func parseParams(params []string) (url.Values, error) {
	values := url.Values{}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", p)
		}
		values.Add(key, value)
	}
	return values, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
