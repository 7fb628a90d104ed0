package agent

import (
	"context"
	"log"
	"time"
)

// Agent drives the sequential report/poll/run loop. A failed cycle is logged
// and the loop continues; the agent never exits on a single bad report.
type Agent struct {
	client    *Client
	collector Collector
	runner    ActionRunner
	machineID string
	interval  time.Duration
	logger    *log.Logger
}

// AgentOption customizes the loop.
type AgentOption func(*Agent)

// WithInterval overrides the sleep between cycles.
func WithInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithRunner replaces the default LogRunner.
func WithRunner(r ActionRunner) AgentOption {
	return func(a *Agent) {
		if r != nil {
			a.runner = r
		}
	}
}

func New(client *Client, collector Collector, machineID string, logger *log.Logger, opts ...AgentOption) *Agent {
	a := &Agent{
		client:    client,
		collector: collector,
		runner:    LogRunner{Logger: logger},
		machineID: machineID,
		interval:  30 * time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes cycles until the context ends.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Cycle(ctx)
		}
	}
}

// Cycle runs one pass: collect, report, poll, execute, report results.
func (a *Agent) Cycle(ctx context.Context) {
	report, err := a.collector.Collect(ctx)
	if err != nil {
		a.logger.Printf("collect failed: %v", err)
		return
	}
	if err := a.client.Report(ctx, a.machineID, report); err != nil {
		a.logger.Printf("report failed: %v", err)
		return
	}

	pending, err := a.client.PollPending(ctx, a.machineID)
	if err != nil {
		a.logger.Printf("poll failed: %v", err)
		return
	}
	for _, act := range pending {
		if err := a.client.MarkExecuting(ctx, act.ActionID); err != nil {
			// The flag is advisory; the action still runs.
			a.logger.Printf("executing mark failed for %s: %v", act.ActionID, err)
		}
		ok, message := a.runner.Run(ctx, act)
		status := "done"
		if !ok {
			status = "error"
		}
		if err := a.client.ReportResult(ctx, act.ActionID, status, message); err != nil {
			// The action stays pending server-side and is retried next cycle.
			a.logger.Printf("result report failed for %s: %v", act.ActionID, err)
		}
	}
}
