package main

import (
	"log/slog"
	"os"

	"github.com/visuvia/mctp-controller/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "mctp-controller")
	logging.Set(l)
	return l
}
