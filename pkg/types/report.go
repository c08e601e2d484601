package types

import (
	"time"
)

// CheckStats counts passes and failures of one check name across all drivers
type CheckStats struct {
	Name   string `json:"name"`
	Passes int    `json:"passes"`
	Fails  int    `json:"fails"`
}

// Total returns the number of times the check was recorded
func (s CheckStats) Total() int {
	return s.Passes + s.Fails
}

// Rate returns the pass ratio in [0,1], or 0 when nothing was recorded
func (s CheckStats) Rate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Passes) / float64(s.Total())
}

// Report is the aggregate of a whole load run
// FUNCTIONAL DISCOVERY: Checks kept in first-seen order so the printed table
// follows the scripted step order instead of map iteration order
type Report struct {
	RunID        string        `json:"run_id"`
	Scenario     string        `json:"scenario"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
	VirtualUsers int           `json:"virtual_users"`
	Iterations   int           `json:"iterations"`
	Checks       []CheckStats  `json:"checks"`
}

// NewReport creates an empty report for a run
func NewReport(runID, scenario string, virtualUsers int) *Report {
	return &Report{
		RunID:        runID,
		Scenario:     scenario,
		StartedAt:    time.Now(),
		VirtualUsers: virtualUsers,
		Checks:       []CheckStats{},
	}
}

// Add merges one outcome into the aggregate
func (r *Report) Add(outcome *Outcome) {
	r.Iterations++
	for _, c := range outcome.Checks {
		idx := r.index(c.Name)
		if idx < 0 {
			r.Checks = append(r.Checks, CheckStats{Name: c.Name})
			idx = len(r.Checks) - 1
		}
		if c.Passed {
			r.Checks[idx].Passes++
		} else {
			r.Checks[idx].Fails++
		}
	}
}

// Stats returns the counters for a check name
func (r *Report) Stats(name string) (CheckStats, bool) {
	if idx := r.index(name); idx >= 0 {
		return r.Checks[idx], true
	}
	return CheckStats{Name: name}, false
}

// Failed reports whether any required check recorded a failure.
// With no names given every check is required.
func (r *Report) Failed(required ...string) bool {
	if len(required) == 0 {
		for _, s := range r.Checks {
			if s.Fails > 0 {
				return true
			}
		}
		return false
	}
	for _, name := range required {
		if s, ok := r.Stats(name); ok && s.Fails > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines
func (r *Report) Clone() *Report {
	cp := *r
	cp.Checks = make([]CheckStats, len(r.Checks))
	copy(cp.Checks, r.Checks)
	return &cp
}

func (r *Report) index(name string) int {
	for i, s := range r.Checks {
		if s.Name == name {
			return i
		}
	}
	return -1
}
