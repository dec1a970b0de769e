package main

import (
	"log/slog"
	"os"
)

func main() {
	initLogger(os.Getenv("SVCMAN_LOG_LEVEL"))
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func initLogger(level string) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}
