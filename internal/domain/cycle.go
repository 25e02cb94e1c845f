package domain

import "time"

// CycleHistoryDepth bounds the rolling history of dealer cycles kept for
// feeding condensed context into the next oracle call.
const CycleHistoryDepth = 5

// CycleStats is the per-cycle timing breakdown recorded for telemetry.
type CycleStats struct {
	FetchDuration    time.Duration `json:"fetch_duration"`
	DecisionDuration time.Duration `json:"decision_duration"`
	ExecuteDuration  time.Duration `json:"execute_duration"`
}

// CycleRecord is one completed dealer cycle: when it ran, what was analyzed
// and every decision produced (including HOLDs and discarded ones, for
// auditability).
type CycleRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	AssetsAnalyzed []string        `json:"assets_analyzed"`
	Decisions      []CycleDecision `json:"decisions"`
	Executed       []string        `json:"executed,omitempty"`
	Stats          CycleStats      `json:"stats"`
}
