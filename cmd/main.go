package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Vasu1712/gatherhub/internal/config"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	EnvFile  string
	LogLevel string
	Config   *config.Config
}

func main() {
	f := &flags{}

	app := &cli.Command{
		Name:    "gatherhub",
		Usage:   "Real-time event scheduling server",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file read before the environment",
				Value:       ".env",
				Destination: &f.EnvFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "overrides LOG_LEVEL (debug, info, warn, error)",
				Destination: &f.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(f.EnvFile)
			if err != nil {
				return ctx, err
			}
			if f.LogLevel != "" {
				cfg.LogLevel = f.LogLevel
			}
			f.Config = cfg
			return ctx, setupLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'gatherhub --help' for usage", c.Args().First())
			}
			return serve(ctx, f.Config)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and socket server",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, f.Config)
				},
			},
			tokenCmd(f),
			{
				Name:  "migrate",
				Usage: "apply the PostgreSQL schema",
				Action: func(ctx context.Context, c *cli.Command) error {
					return migrate(ctx, f.Config)
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("gatherhub failed")
		os.Exit(1)
	}
}

func tokenCmd(f *flags) *cli.Command {
	var (
		userID int64
		name   string
		email  string
		ttl    time.Duration
	)
	return &cli.Command{
		Name:  "token",
		Usage: "print a signed access token for local testing",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true, Destination: &userID},
			&cli.StringFlag{Name: "name", Destination: &name},
			&cli.StringFlag{Name: "email", Destination: &email},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Destination: &ttl},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			token, err := issueToken(ctx, f.Config, userID, name, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
}

func setupLogger(level, format string, out io.Writer) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}
