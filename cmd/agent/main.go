package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pushfeed/internal/app"
	"pushfeed/internal/config"
)

func main() {
	var (
		cfgPath string
		token   string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&token, "token", "", "session token (falls back to PUSHFEED_TOKEN)")
	flag.Parse()

	if token == "" {
		token = os.Getenv("PUSHFEED_TOKEN")
	}
	if token == "" {
		fmt.Println("fatal: no session token (use -token or PUSHFEED_TOKEN)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	a, err := app.New(cfgm, newStandaloneSession(token, cancel))
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = a.Stop(sctx)
}
