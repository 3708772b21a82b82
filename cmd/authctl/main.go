package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/authkeeper/internal/authctl"
	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	// informational logs would mix with command output
	logger, err := logging.New(cfg.LogBackend, "warn")
	if err != nil {
		log.Fatalf("%v", err)
	}

	app := authctl.NewApp(cfg, logger, os.Stdin, os.Stdout)
	if err := app.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags())); err != nil {
		if errors.Is(err, authctl.ErrUsage) {
			log.Printf("%v", err)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}

}
