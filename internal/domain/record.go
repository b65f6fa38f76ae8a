package domain

import (
	"encoding/json"
	"time"
)

// Record is the row shape sent to the remote store. Field names match the
// remote table columns; optional aggregates are omitted when absent.
type Record struct {
	FileHash        string          `json:"file_hash"`
	FileName        string          `json:"file_name"`
	NasPath         string          `json:"nas_path,omitempty"`
	SessionID       int64           `json:"session_id"`
	GfxPCID         string          `json:"gfx_pc_id"`
	TableType       string          `json:"table_type"`
	EventTitle      *string         `json:"event_title,omitempty"`
	SoftwareVersion *string         `json:"software_version,omitempty"`
	HandCount       int             `json:"hand_count,omitempty"`
	PlayerCount     int             `json:"player_count,omitempty"`
	Payouts         []int64         `json:"payouts,omitempty"`
	RawJSON         json.RawMessage `json:"raw_json"`
}

// ParsedRecord is the immutable result of parsing a source file.
// FileHash is a pure function of the raw bytes; (GfxPCID, FileHash) is the
// logical primary key used for deduplication at the remote store.
type ParsedRecord struct {
	Record
	FilePath string `json:"-"`
}

// QueuedRecord is a ParsedRecord persisted after a delivery failure.
type QueuedRecord struct {
	ID         int64
	Record     json.RawMessage
	GfxPCID    string
	FilePath   string
	RetryCount int
	CreatedAt  time.Time
	LastError  string
}

// DeadLetterRecord is a record that exhausted its retry budget.
// The transition from QueuedRecord is one-way.
type DeadLetterRecord struct {
	ID          int64
	Record      json.RawMessage
	GfxPCID     string
	FilePath    string
	RetryCount  int
	ErrorReason string
	CreatedAt   time.Time
}
