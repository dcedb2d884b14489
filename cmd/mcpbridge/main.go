// Package main is the entry point for the mcpbridge command-line application.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/billyjbryant/mcp-foxxy-bridge/cmd/mcpbridge/app"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
)

func main() {
	bridgelog.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		bridgelog.Errorf("error executing command: %v", err)
		os.Exit(1)
	}
}
