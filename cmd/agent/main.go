package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/agent"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)
	var (
		server    = flag.String("server", envOr("DASHFLEET_SERVER", "http://localhost:8080"), "Fleet API base URL")
		apiKey    = flag.String("api-key", os.Getenv("DASHFLEET_API_KEY"), "API key for this organization")
		machineID = flag.String("machine-id", "", "Override the machine id (default: hostname)")
		interval  = flag.Duration("interval", 30*time.Second, "Delay between report cycles")
	)
	flag.Parse()

	if *apiKey == "" {
		log.Fatal("missing API key: provide via -api-key or DASHFLEET_API_KEY")
	}
	id := *machineID
	if id == "" {
		var err error
		id, err = agent.MachineID()
		if err != nil {
			log.Fatalf("derive machine id: %v", err)
		}
	}

	client := agent.NewClient(*server, *apiKey)
	a := agent.New(client, agent.NewProcCollector(), id, log.Default(), agent.WithInterval(*interval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("agent %s reporting to %s every %s", id, *server, *interval)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent loop: %v", err)
	}
	log.Println("agent stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
