// Command polybot is the entry point for the trading bot. It loads and
// validates configuration, sets up signal handling, and runs the application
// in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/app"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/config"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (trade, paper, monitor)")
	encryptKey := flag.String("encrypt-key", "", "encrypt the private key in POLYBOT_WALLET_PRIVATE_KEY with POLYBOT_WALLET_KEY_PASSWORD and write it to this path, then exit")
	flag.Parse()

	if *encryptKey != "" {
		if err := writeEncryptedKey(*encryptKey); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("encrypted key written to %s\n", *encryptKey)
		return
	}

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polymarket bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("strategies", cfg.EnabledStrategies()),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("polymarket bot stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// writeEncryptedKey reads the raw key and password from the environment so
// neither ends up in shell history.
func writeEncryptedKey(path string) error {
	key := os.Getenv("POLYBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("POLYBOT_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("POLYBOT_WALLET_PRIVATE_KEY and POLYBOT_WALLET_KEY_PASSWORD must be set")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
