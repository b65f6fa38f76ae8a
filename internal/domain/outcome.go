package domain

import "time"

// OutcomeStatus classifies the result of a delivery attempt.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeParseError  OutcomeStatus = "parse_error"
	OutcomeRateLimited OutcomeStatus = "rate_limited"
	OutcomeQueued      OutcomeStatus = "queued_for_retry"
	OutcomeFatal       OutcomeStatus = "fatal"
)

// SyncOutcome is the return contract between the orchestrator and its
// delivery paths. Never persisted.
type SyncOutcome struct {
	Status OutcomeStatus
	Err    error
}

// Succeeded reports whether the delivery reached the remote store.
func (o SyncOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// AgentStats is the health surface snapshot exposed for external polling.
type AgentStats struct {
	InstanceID      string    `json:"instance_id"`
	Running         bool      `json:"running"`
	BatchPending    int       `json:"batch_pending"`
	QueuePending    int64     `json:"queue_pending"`
	DeadLetterCount int64     `json:"dead_letter_count"`
	LastSyncAt      time.Time `json:"last_sync_at"`
	WatchedSources  []string  `json:"watched_sources"`
}
