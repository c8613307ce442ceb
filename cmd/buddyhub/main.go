package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"buddyhub/internal/app"
	"buddyhub/internal/config"
)

const serviceName = "buddyhub"

// runFunc runs the hub with a fully resolved config.
type runFunc func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error

func main() {
	if err := newApp(serve, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(run runFunc, out io.Writer) *cli.App {
	return &cli.App{
		Name:    serviceName,
		Usage:   "real-time chat, presence and call signaling hub",
		Version: commitHash(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a JSON config file", EnvVars: []string{"BUDDYHUB_CONFIG"}},
			&cli.StringFlag{Name: "host", Usage: "listen host"},
			&cli.IntFlag{Name: "port", Usage: "listen port"},
			&cli.StringFlag{Name: "db-driver", Usage: "message store driver (sqlite3 or postgres)"},
			&cli.StringFlag{Name: "db-path", Usage: "sqlite database file"},
			&cli.StringFlag{Name: "db-dsn", Usage: "postgres connection string"},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HMAC secret for authenticate tokens; empty accepts any user id"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
			&cli.BoolFlag{Name: "console", Usage: "human-readable log output"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			applyFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(c.Context, cfg, newLogger(cfg, out))
		},
	}
}

// applyFlags overrides cfg with every flag given on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("host") {
		cfg.HTTP.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.HTTP.Port = c.Int("port")
	}
	if c.IsSet("db-driver") {
		cfg.Database.Driver = c.String("db-driver")
	}
	if c.IsSet("db-path") {
		cfg.Database.Path = c.String("db-path")
	}
	if c.IsSet("db-dsn") {
		cfg.Database.DSN = c.String("db-dsn")
	}
	if c.IsSet("jwt-secret") {
		cfg.Auth.JWTSecret = c.String("jwt-secret")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("console") {
		cfg.Log.Console = c.Bool("console")
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.Log.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(cfg.LogLevel()).With().
		Timestamp().
		Str("service", serviceName).
		Str("version", commitHash()).
		Logger()
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return application.Run(ctx)
}

func commitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}
