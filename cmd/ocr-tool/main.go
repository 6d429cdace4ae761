package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/receiptflow/ocr-worker/internal/logging"
)

func main() {
	logger := logging.NewLogger("ocr-tool")

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := NewCLI(os.Stdout, os.Stderr)
	if err := cli.Run(ctx, os.Args[1:]); err != nil {
		logger.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
