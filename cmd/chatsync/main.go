package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/whisper/chatsync/internal/config"
	"github.com/whisper/chatsync/internal/state"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyLogger
	contextKeyStore
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func getStore(ctx *cli.Context) state.Store {
	return ctx.Context.Value(contextKeyStore).(state.Store)
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log := newLogger(cfg, os.Stderr)

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	newCtx = context.WithValue(newCtx, contextKeyStore, store)
	ctx.Context = newCtx
	return nil
}

func closeApp(ctx *cli.Context) error {
	if store, ok := ctx.Context.Value(contextKeyStore).(state.Store); ok {
		return store.Close()
	}
	return nil
}

// requireUser returns the logged-in user or an error telling how to log in.
func requireUser(ctx *cli.Context) (*state.User, error) {
	u, err := getStore(ctx).LoadUser(ctx.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("you are not logged in, run 'chatsync login' first")
	}
	return u, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == config.FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openStore(cfg *config.Config, log zerolog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		return state.NewRedisStore(cfg.State.RedisAddr, cfg.State.Profile, log)
	default:
		return state.NewFileStore(cfg.State.Path, log)
	}
}

func main() {
	app := &cli.App{
		Name:    "chatsync",
		Usage:   "Terminal client for the Whisper chat server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before: prepareApp,
		After:  closeApp,
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			prefsCommand,
			friendsCommand,
			searchCommand,
			requestCommand,
			respondCommand,
			chatCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
