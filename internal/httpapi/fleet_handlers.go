package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
	"github.com/BunaTech-G/Dash-Fleet/internal/health"
	"github.com/BunaTech-G/Dash-Fleet/internal/obs"
	"github.com/BunaTech-G/Dash-Fleet/internal/stream"
)

type fleetReportRequest struct {
	MachineID string        `json:"machine_id"`
	Report    *fleet.Report `json:"report"`
}

type fleetListResponse struct {
	Count int           `json:"count"`
	Data  []fleet.Entry `json:"data"`
}

func (a *API) handleFleetReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	org, ok := requireWrite(w, r)
	if !ok {
		return
	}

	var req fleetReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if fields := validateReport(&req); len(fields) > 0 {
		writeErrorFields(w, r, http.StatusBadRequest, "invalid report", fields)
		return
	}

	if _, err := a.registry.Upsert(r.Context(), org.ID, req.MachineID, *req.Report, clientIP(r)); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to persist report")
		return
	}
	obs.ReportsIngested.Inc()

	score := health.Score(req.Report.CPUPercent, req.Report.RAMPercent, req.Report.DiskPercent)
	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Kind:      stream.KindReport,
			OrgID:     org.ID,
			MachineID: req.MachineID,
			Score:     score.Score,
		})
	}
	if a.notifier != nil && score.Status == health.StatusCritical {
		// Fire and forget; the agent's report must not wait on the webhook.
		go func(orgID, machineID string, s int) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if _, err := a.notifier.NotifyCritical(ctx, orgID, machineID, s); err != nil {
				obs.Logger().Printf(`{"type":"webhook_error","org_id":%q,"error":%q}`, orgID, err.Error())
			}
		}(org.ID, req.MachineID, score.Score)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleFleetList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	entries, err := a.registry.ListByOrg(r.Context(), org.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list fleet")
		return
	}
	if entries == nil {
		entries = []fleet.Entry{}
	}
	writeJSON(w, http.StatusOK, fleetListResponse{Count: len(entries), Data: entries})
}

func validateReport(req *fleetReportRequest) map[string]string {
	fields := make(map[string]string)
	if strings.TrimSpace(req.MachineID) == "" {
		fields["machine_id"] = "machine_id is required"
	}
	if len(req.MachineID) > 128 {
		fields["machine_id"] = "machine_id must be <=128 characters"
	}
	if req.Report == nil {
		fields["report"] = "report is required"
		return fields
	}
	checkPercent(fields, "report.cpu_percent", req.Report.CPUPercent)
	checkPercent(fields, "report.ram_percent", req.Report.RAMPercent)
	checkPercent(fields, "report.disk_percent", req.Report.DiskPercent)
	return fields
}

func checkPercent(fields map[string]string, name string, v float64) {
	// v != v catches NaN, which fails both range comparisons.
	if v != v || v < 0 || v > 100 {
		fields[name] = fmt.Sprintf("%s must be between 0 and 100", name)
	}
}
