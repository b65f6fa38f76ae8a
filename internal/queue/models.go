package queue

import "time"

// PendingRecord is one active row of the durable retry queue.
type PendingRecord struct {
	ID         int64     `gorm:"primaryKey"`
	RecordJSON string    `gorm:"type:text;not null"`
	GfxPCID    string    `gorm:"index;size:64"`
	FilePath   string    `gorm:"size:1024"`
	RetryCount int       `gorm:"index;default:0"`
	CreatedAt  time.Time `gorm:"index"`
	LastError  string    `gorm:"type:text"`
}

func (PendingRecord) TableName() string { return "pending_sync" }

// DeadLetter is a record that exhausted its retry budget. Retries stop here;
// no cap check is applied. Requeueing back to pending_sync is a manual
// operator action.
type DeadLetter struct {
	ID          int64  `gorm:"primaryKey"`
	RecordJSON  string `gorm:"type:text;not null"`
	GfxPCID     string `gorm:"index;size:64"`
	FilePath    string `gorm:"size:1024"`
	RetryCount  int
	ErrorReason string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

func (DeadLetter) TableName() string { return "dead_letter" }
