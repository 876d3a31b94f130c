package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func newApp() *cli.App {
	return &cli.App{
		Name:    "blipguard",
		Usage:   "watch MJPEG cameras and raise an alarm when a vision model spots something suspicious",
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
			snapshotCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("blipguard: %v", err)
	}
}
