package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	capabilitycmd "github.com/louisbranch/capability.space/internal/cmd/capability"
)

func main() {
	cfg, err := capabilitycmd.ParseConfig(flag.CommandLine, os.Args[1:], nil)
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CAPABILITY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capabilitycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
