package action

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an action. An action transitions exactly
// once from pending to a terminal state; executing is advisory.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether the status ends the action's lifecycle.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// Known remote command types. Unknown types are rejected at the API boundary;
// agents treat anything they cannot run as an error result.
var knownTypes = map[string]struct{}{
	"message":         {},
	"restart":         {},
	"reboot":          {},
	"flush_dns":       {},
	"restart_spooler": {},
	"cleanup_temp":    {},
	"cleanup_teams":   {},
	"cleanup_outlook": {},
	"collect_logs":    {},
}

// KnownType reports whether the action type is one the platform dispatches.
func KnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// Action is an admin-issued remote command awaiting asynchronous execution by
// an agent.
type Action struct {
	ID         string          `json:"action_id"`
	OrgID      string          `json:"org_id"`
	MachineID  string          `json:"machine_id"`
	Type       string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Result     string          `json:"result,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ExecutedAt *time.Time      `json:"executed_at,omitempty"`
}

var (
	ErrNotFound    = errors.New("action: not found")
	ErrUnknownType = errors.New("action: unknown action type")
	ErrBadStatus   = errors.New("action: status must be done or error")
)
