// Command contactd runs the contact gateway as a long-running HTTP server
// for local development and container deployments.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/contact-gateway/internal/config"
	"github.com/tjfontaine/contact-gateway/internal/runtime"
)

const name = "contactd"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Serve the contact form API",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file (default: ./config.yaml if present)",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before configuration",
				Value: ".env",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override the listen port",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "lazy-connect",
				Usage: "Connect to the store on the first request instead of at startup",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := godotenv.Load(cmd.String("env-file")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", cmd.String("env-file"), err)
	}

	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}

	if err := cfg.ValidateForServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := runtime.NewLogger(cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)

	gw, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	if !cmd.Bool("lazy-connect") {
		if err := gw.Connect(ctx); err != nil {
			_ = gw.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("connect store: %w", err)
		}
	}

	logger.Info("contact gateway starting",
		slog.String("version", version),
		slog.Int("port", cfg.Server.Port),
		slog.String("env", cfg.App.Env),
	)

	return gw.ListenAndServe(ctx)
}
