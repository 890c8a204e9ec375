package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/GPTx-global/oao-assistant/oracle/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
