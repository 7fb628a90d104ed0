package httpapi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BunaTech-G/Dash-Fleet/internal/health"
)

const exportScope = "fleet_export"

type exportClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// handleExportToken mints a short-lived signed token that grants a single
// org's fleet CSV download without carrying the API key into a browser URL.
func (a *API) handleExportToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	org, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if len(a.exportSecret) == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "export tokens not configured")
		return
	}

	now := time.Now().UTC()
	expires := now.Add(a.exportTTL)
	claims := exportClaims{
		Scope: exportScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   org.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.exportSecret)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"expires_at": expires.Format(time.RFC3339),
	})
}

// handleExportCSV streams the org's current fleet view as CSV. The org is
// taken from the signed token, not from the normal credential chain, so the
// URL can be handed to a browser download.
func (a *API) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID, err := a.verifyExportToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, http.StatusForbidden, "invalid or expired export token")
		return
	}

	entries, err := a.registry.ListByOrg(r.Context(), orgID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list fleet")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="fleet.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"machine_id", "cpu_percent", "ram_percent", "disk_percent", "score", "status", "last_seen", "source_ip"})
	for _, e := range entries {
		h := e.Health
		if h == nil {
			s := health.Score(e.Report.CPUPercent, e.Report.RAMPercent, e.Report.DiskPercent)
			h = &s
		}
		_ = cw.Write([]string{
			e.MachineID,
			fmt.Sprintf("%.1f", e.Report.CPUPercent),
			fmt.Sprintf("%.1f", e.Report.RAMPercent),
			fmt.Sprintf("%.1f", e.Report.DiskPercent),
			strconv.Itoa(h.Score),
			h.Status,
			e.LastSeen.UTC().Format(time.RFC3339),
			e.SourceIP,
		})
	}
	cw.Flush()
}

func (a *API) verifyExportToken(token string) (string, error) {
	if len(a.exportSecret) == 0 || token == "" {
		return "", errors.New("export token missing")
	}
	parsed, err := jwt.ParseWithClaims(token, &exportClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.exportSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*exportClaims)
	if !ok || !parsed.Valid || claims.Scope != exportScope || claims.Subject == "" {
		return "", errors.New("invalid export token")
	}
	return claims.Subject, nil
}
