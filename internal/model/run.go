package model

import "time"

// RunStatus represents the current state of a scrape run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Run represents a single scrape run over a target list.
type Run struct {
	ID        string        `json:"id"`
	Targets   []TargetRange `json:"targets"`
	Status    RunStatus     `json:"status"`
	Result    *RunResult    `json:"result,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TargetStats holds per-target counts.
type TargetStats struct {
	Street   string `json:"street"`
	CityID   int    `json:"city_id"`
	Raw      int    `json:"raw"`
	Accepted int    `json:"accepted"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Raw        int           `json:"raw"`
	Accepted   int           `json:"accepted"`
	Distinct   int           `json:"distinct"`
	OutputFile string        `json:"output_file"`
	Targets    []TargetStats `json:"targets"`
	Error      string        `json:"error,omitempty"`
}
