package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"compliance-ledger/internal/config"
	"compliance-ledger/internal/logging"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "ledgerd",
		Short:        "Compliance-gated token ledger and token sale",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to a YAML config file (LEDGER_* variables override it)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newStatusCmd(opts),
		newAddressCmd(),
	)
	return cmd
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{
		Environment: logging.Environment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
