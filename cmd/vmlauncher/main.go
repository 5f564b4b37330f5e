// Command vmlauncher drives the VM lifecycle from the command line using
// the same validation and state rules as the shared library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/aledbf/vmlauncher/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.L.WithError(err).Error("vmlauncher failed")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "vmlauncher",
		Usage: "launch, stop and clean up QEMU virtual machines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a JSON or YAML config file",
				EnvVars: []string{config.EnvConfig},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.LogLevel = lvl
			}
			if err := cfg.ApplyLogging(); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			c.App.Metadata = map[string]any{configKey: cfg}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			checkCommand,
			instancesCommand,
		},
	}
}

const configKey = "config"

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Get()
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}
