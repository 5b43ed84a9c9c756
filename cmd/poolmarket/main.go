// Command poolmarket runs the pari-mutuel settlement service.
//
// Usage:
//
//	poolmarket [serve] [-config config.toml]   run in the configured mode
//	poolmarket check [-config config.toml]     validate and print the config
//	poolmarket keygen -out authority.json      seal a new authority key
//
// keygen reads the sealing password from POOLMARKET_KEY_PASSWORD.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/poolmarket/internal/app"
	"github.com/alanyoungcy/poolmarket/internal/config"
	"github.com/alanyoungcy/poolmarket/internal/crypto"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "check":
		err = check(args)
	case "keygen":
		err = keygen(args)
	default:
		err = fmt.Errorf("unknown command %q (valid: serve, check, keygen)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolmarket %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// loadConfig parses -config from args and returns the validated config.
func loadConfig(name string, args []string) (*config.Config, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "config.toml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, *path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, *path, err
	}
	return cfg, *path, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(args []string) error {
	cfg, path, err := loadConfig("serve", args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("poolmarket starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", path),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("poolmarket stopped")
	return nil
}

// check prints the effective configuration with secrets masked.
func check(args []string) error {
	cfg, _, err := loadConfig("check", args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(config.RedactedConfig(cfg))
}

// keygen writes a freshly generated authority key sealed with the password
// from POOLMARKET_KEY_PASSWORD and prints its address.
func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "authority.json", "where to write the sealed key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password := os.Getenv("POOLMARKET_KEY_PASSWORD")
	if password == "" {
		return errors.New("POOLMARKET_KEY_PASSWORD is not set")
	}
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("%s already exists", *out)
	}

	signer, err := crypto.GenerateSigner()
	if err != nil {
		return err
	}
	sealed, err := crypto.EncryptKey(signer.PrivateKeyHex(), password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Println(signer.Address().Hex())
	return nil
}
