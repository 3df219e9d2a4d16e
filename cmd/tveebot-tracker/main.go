package main

import (
	"log/slog"
	"os"

	"github.com/tveebot/tracker/cmd/tveebot-tracker/commands"
)

func main() {
	// Replaced once the configuration is loaded.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
