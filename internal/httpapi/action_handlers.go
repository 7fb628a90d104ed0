package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/BunaTech-G/Dash-Fleet/internal/action"
	"github.com/BunaTech-G/Dash-Fleet/internal/audit"
	"github.com/BunaTech-G/Dash-Fleet/internal/obs"
	"github.com/BunaTech-G/Dash-Fleet/internal/stream"
)

type queueActionRequest struct {
	MachineID  string          `json:"machine_id"`
	ActionType string          `json:"action_type"`
	Data       json.RawMessage `json:"data"`
}

type pendingAction struct {
	ActionID string          `json:"action_id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type actionReportRequest struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
	Result   string `json:"result"`
}

func (a *API) handleActionQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	org, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req queueActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string]string)
	if strings.TrimSpace(req.MachineID) == "" {
		fields["machine_id"] = "machine_id is required"
	}
	if strings.TrimSpace(req.ActionType) == "" {
		fields["action_type"] = "action_type is required"
	}
	if len(fields) > 0 {
		writeErrorFields(w, r, http.StatusBadRequest, "invalid action", fields)
		return
	}

	act, err := a.queue.Enqueue(r.Context(), org.ID, req.MachineID, req.ActionType, req.Data, org.Name)
	if err != nil {
		if errors.Is(err, action.ErrUnknownType) {
			writeErrorFields(w, r, http.StatusBadRequest, "invalid action",
				map[string]string{"action_type": "unknown action_type " + req.ActionType})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to enqueue action")
		return
	}
	obs.ActionsEnqueued.WithLabelValues(act.Type).Inc()
	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Kind:      stream.KindActionQueued,
			OrgID:     org.ID,
			MachineID: act.MachineID,
			ActionID:  act.ID,
			Status:    string(act.Status),
		})
	}
	_ = audit.LogEvent(r.Context(), "action.queued", map[string]any{
		"action_id":   act.ID,
		"machine_id":  act.MachineID,
		"action_type": act.Type,
	})

	writeJSON(w, http.StatusOK, map[string]any{"action_id": act.ID})
}

func (a *API) handleActionsPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	org, ok := requireWrite(w, r)
	if !ok {
		return
	}
	machineID := strings.TrimSpace(r.URL.Query().Get("machine_id"))
	if machineID == "" {
		writeErrorFields(w, r, http.StatusBadRequest, "invalid query",
			map[string]string{"machine_id": "machine_id query parameter is required"})
		return
	}

	pending, err := a.queue.PollPending(r.Context(), org.ID, machineID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to poll actions")
		return
	}

	out := make([]pendingAction, 0, len(pending))
	for _, act := range pending {
		out = append(out, pendingAction{ActionID: act.ID, Type: act.Type, Data: act.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (a *API) handleActionReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	org, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req actionReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string]string)
	if strings.TrimSpace(req.ActionID) == "" {
		fields["action_id"] = "action_id is required"
	}
	status := action.Status(req.Status)
	if !status.Terminal() && status != action.StatusExecuting {
		fields["status"] = "status must be done, error or executing"
	}
	if len(fields) > 0 {
		writeErrorFields(w, r, http.StatusBadRequest, "invalid report", fields)
		return
	}

	// An executing report is a progress note, not a result: it flips the
	// advisory flag and never touches the terminal state machine.
	if status == action.StatusExecuting {
		if err := a.queue.MarkExecuting(r.Context(), org.ID, req.ActionID); err != nil {
			if errors.Is(err, action.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "unknown action_id")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "failed to record progress")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	res, err := a.queue.ReportResult(r.Context(), org.ID, req.ActionID, status, req.Result)
	if err != nil {
		if errors.Is(err, action.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "unknown action_id")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to record result")
		return
	}
	obs.ActionResults.WithLabelValues(string(res.Action.Status)).Inc()

	if res.Conflict {
		// First write wins; the late report is acknowledged but ignored.
		_ = audit.LogEvent(r.Context(), "action.result.conflict", map[string]any{
			"action_id":      res.Action.ID,
			"kept_status":    string(res.Action.Status),
			"ignored_status": req.Status,
			"ignored_result": req.Result,
		})
	}
	if res.Applied && a.stream != nil {
		a.stream.Publish(stream.Event{
			Kind:      stream.KindActionResult,
			OrgID:     org.ID,
			MachineID: res.Action.MachineID,
			ActionID:  res.Action.ID,
			Status:    string(res.Action.Status),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
