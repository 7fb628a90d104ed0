package agent

import (
	"context"
	"encoding/json"
	"log"
)

// ActionRunner executes one queued action. The contract is fixed: ok=true
// means the action completed, ok=false means it failed, and message carries
// the human-readable outcome either way. Runners must be idempotent because
// delivery is at-least-once.
type ActionRunner interface {
	Run(ctx context.Context, act PendingAction) (ok bool, message string)
}

// LogRunner is the default runner: it handles "message" by logging its text
// and reports every other type as an error result. Platform-specific runners
// replace it where real command execution is wired up.
type LogRunner struct {
	Logger *log.Logger
}

func (r LogRunner) Run(ctx context.Context, act PendingAction) (bool, string) {
	switch act.Type {
	case "message":
		text := extractText(act.Data)
		if r.Logger != nil {
			r.Logger.Printf("message for this machine: %s", text)
		}
		return true, "message displayed"
	default:
		return false, "action type " + act.Type + " not supported by this agent"
	}
}

func extractText(data json.RawMessage) string {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Text == "" {
		return string(data)
	}
	return payload.Text
}
