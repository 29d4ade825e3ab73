package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/viant/hitl"
)

type options struct {
	config      string
	driver      string
	url         string
	auditDriver string
	auditURL    string
	asJSON      bool
	verbose     bool

	service *hitl.Service
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "hitl",
		Short:         "Inspect and decide human-in-the-loop checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.open(cmd.Context())
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.config, "config", "c", "", "configuration URL (YAML)")
	flags.StringVar(&opts.driver, "driver", "", "storage driver: fs or sqlite")
	flags.StringVar(&opts.url, "url", "", "storage location")
	flags.StringVar(&opts.auditDriver, "audit-driver", "", "audit driver: fs, badger or sqlite")
	flags.StringVar(&opts.auditURL, "audit-url", "", "audit location")
	flags.BoolVar(&opts.asJSON, "json", false, "print JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log service activity")

	cmd.AddCommand(
		newPendingCmd(opts),
		newShowCmd(opts),
		newResolveCmd(opts),
		newEscalateCmd(opts),
		newTrailCmd(opts),
		newFailuresCmd(opts),
	)
	return cmd
}

func (o *options) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	config := hitl.DefaultConfig()
	if o.config != "" {
		loaded, err := hitl.LoadConfig(ctx, o.config)
		if err != nil {
			return err
		}
		config = loaded
	}
	if o.driver != "" {
		config.Storage = hitl.StorageConfig{Driver: o.driver, URL: o.url}
	}
	if o.auditDriver != "" {
		config.Audit = hitl.StorageConfig{Driver: o.auditDriver, URL: o.auditURL}
	}
	if config.Storage.Driver == "" || config.Storage.Driver == hitl.DriverMemory {
		return fmt.Errorf("a persistent store is required, use --driver fs|sqlite or a config")
	}
	config.SweepIntervalMs = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if o.verbose {
		logger = hitl.NewLogger()
	}
	service, err := hitl.New(ctx, config, hitl.WithLogger(logger))
	if err != nil {
		return err
	}
	o.service = service
	return nil
}

// run closes the service once the command finished, whatever the outcome.
func (o *options) run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if o.service == nil {
				return
			}
			if closeErr := o.service.Close(); err == nil {
				err = closeErr
			}
			o.service = nil
		}()
		return fn(cmd, args)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
