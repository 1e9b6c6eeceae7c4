package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/t9s-dev/t9s/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override config path (optional)")
	clearCache := flag.Bool("clear-cache", false, "delete the on-disk cache and exit")
	flag.Parse()

	opts := app.Options{ConfigPath: *configPath}

	if *clearCache {
		dir, err := app.ClearCache(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "t9s: %v\n", err)
			return 1
		}
		fmt.Printf("cleared cache at %s\n", dir)
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "t9s: %v\n", err)
		return 1
	}
	return 0
}
