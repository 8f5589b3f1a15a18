package model

import "time"

// RunReport summarizes one pipeline invocation. It is logged and printed as
// JSON at the end of a run.
type RunReport struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Fetched        int       `json:"fetched"`
	RawUpserted    int       `json:"raw_upserted"`
	Transformed    int       `json:"transformed"`
	FailedIDs      []string  `json:"failed_ids,omitempty"`
	MarkedResolved int       `json:"marked_resolved"`
	StatDates      int       `json:"stat_dates"`
	ElapsedMS      int64     `json:"elapsed_ms"`
}
