package main

import (
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/maxharrison/podcast-adblocker/internal/bootstrap"
	"github.com/maxharrison/podcast-adblocker/internal/config"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "adblocker",
		Short:         "Remove adverts from podcast episodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStripCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))

	return rootCmd
}

// commandContext loads configuration and dependencies once per invocation.
// Local commands skip the feed, transcription and bucket settings.
type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error

	// load and loadLocal are replaced in tests.
	load      func() (*config.Config, error)
	loadLocal func() (*config.Config, error)
}

func (c *commandContext) ensureConfig(local bool) (*config.Config, *slog.Logger, error) {
	c.configOnce.Do(func() {
		load := c.load
		if load == nil {
			load = config.Load
		}
		if local {
			load = c.loadLocal
			if load == nil {
				load = config.LoadLocal
			}
		}
		cfg, err := load()
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = cfg.NewLogger()
		slog.SetDefault(c.logger)
	})
	return c.config, c.logger, c.configErr
}

func (c *commandContext) dependencies() (*bootstrap.Dependencies, *config.Config, *slog.Logger, error) {
	cfg, logger, err := c.ensureConfig(false)
	if err != nil {
		return nil, nil, nil, err
	}
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return deps, cfg, logger, nil
}

func (c *commandContext) localDependencies() (*bootstrap.Dependencies, *config.Config, *slog.Logger, error) {
	cfg, logger, err := c.ensureConfig(true)
	if err != nil {
		return nil, nil, nil, err
	}
	deps, err := bootstrap.NewLocalDependencies(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return deps, cfg, logger, nil
}
