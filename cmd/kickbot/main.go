// Command kickbot watches Kick chatrooms, logs their chat and answers simple
// commands.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	// .env is a local convenience; real deployments set the environment.
	_ = godotenv.Load()

	setupLogging()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT
// (text | json).
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", "value", os.Getenv("LOG_LEVEL"))
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
