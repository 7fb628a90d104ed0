// Package health computes a 0-100 health score from machine metrics.
//
// Each dimension earns full credit up to a comfortable threshold and decays
// linearly to zero credit at saturation. The weighted sum is scaled to 0-100
// and rounded half away from zero (math.Round).
package health

import "math"

// Status labels for the overall score.
const (
	StatusOK       = "ok"
	StatusWarn     = "warn"
	StatusCritical = "critical"
)

// Status thresholds on the overall score.
const (
	scoreOK   = 80
	scoreWarn = 60
)

// Dimension thresholds: full credit at or below the first value, zero credit
// at or above the second.
const (
	cpuFull, cpuSat   = 50, 100
	ramFull, ramSat   = 60, 100
	diskFull, diskSat = 70, 100
)

// Dimension weights.
const (
	cpuWeight  = 0.35
	ramWeight  = 0.35
	diskWeight = 0.30
)

// Components holds the per-dimension sub-scores on a 0-100 scale.
type Components struct {
	CPU  int `json:"cpu"`
	RAM  int `json:"ram"`
	Disk int `json:"disk"`
}

// Result is the computed health of a single machine.
type Result struct {
	Score      int        `json:"score"`
	Status     string     `json:"status"`
	Components Components `json:"components"`
}

// Score computes the health of a machine from its CPU, RAM and disk usage
// percentages. Invalid input (NaN, infinities, values outside [0,100]) is
// treated as the worst case for that dimension rather than failing.
func Score(cpuPct, ramPct, diskPct float64) Result {
	cpu := credit(cpuPct, cpuFull, cpuSat)
	ram := credit(ramPct, ramFull, ramSat)
	disk := credit(diskPct, diskFull, diskSat)

	overall := cpu*cpuWeight + ram*ramWeight + disk*diskWeight
	score := int(math.Round(overall * 100))

	status := StatusCritical
	switch {
	case score >= scoreOK:
		status = StatusOK
	case score >= scoreWarn:
		status = StatusWarn
	}

	return Result{
		Score:  score,
		Status: status,
		Components: Components{
			CPU:  int(math.Round(cpu * 100)),
			RAM:  int(math.Round(ram * 100)),
			Disk: int(math.Round(disk * 100)),
		},
	}
}

// credit maps a usage percentage to [0,1]: 1 at or below full, 0 at or above
// sat, linear in between.
func credit(pct float64, full, sat float64) float64 {
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 || pct > 100 {
		return 0
	}
	c := 1 - math.Max(0, (pct-full)/(sat-full))
	return math.Max(0, math.Min(1, c))
}
