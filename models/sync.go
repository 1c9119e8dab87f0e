// ABOUTME: Sync scheduler run records and operational API contracts
// ABOUTME: Aggregate counts per run and per owner for the background refresh loop

package models

import "time"

// OwnerSyncResult counts resource outcomes for one owner within a run
type OwnerSyncResult struct {
	OwnerKey string `json:"-"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
	Error    string `json:"error,omitempty"`
}

// SyncJobRun is the report of one scheduler cycle
type SyncJobRun struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Processed  int               `json:"processed"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Errored    int               `json:"errored"`
	Owners     []OwnerSyncResult `json:"owners,omitempty"`
}

// Add folds one owner's result into the run totals
func (r *SyncJobRun) Add(res OwnerSyncResult) {
	r.Processed++
	r.Updated += res.Updated
	r.Skipped += res.Skipped
	r.Errored += res.Errored
	r.Owners = append(r.Owners, res)
}

// SchedulerStatus is returned by the scheduler status endpoint
type SchedulerStatus struct {
	Running  bool        `json:"running"`
	InFlight bool        `json:"in_flight"`
	Interval string      `json:"interval"`
	NextRun  *time.Time  `json:"next_run,omitempty"`
	LastRun  *SyncJobRun `json:"last_run,omitempty"`
	Runs     int         `json:"runs"`
}

// SyncRequest triggers an on-demand sync for one owner, optionally one unit
type SyncRequest struct {
	Owner string `json:"owner"`
	Unit  string `json:"unit,omitempty"`
}
