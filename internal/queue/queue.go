package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/garimto81/gfx-json/internal/domain"
)

// Queue is the crash-safe retry queue for records that failed delivery.
//
// Storage is SQLite in WAL mode, so the redrive loop can read while the live
// failure path enqueues without external locking. Writes are committed
// before Enqueue/MarkFailed return.
type Queue struct {
	db         *gorm.DB
	maxSize    int
	maxRetries int
}

// Open opens (creating if needed) the queue database at dbPath.
// maxSize bounds the active table: at capacity the oldest record is evicted
// to admit a new arrival. maxRetries is the ceiling after which a failed
// record moves to the dead-letter table.
func Open(dbPath string, maxSize, maxRetries int) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	if err := db.AutoMigrate(&PendingRecord{}, &DeadLetter{}); err != nil {
		return nil, fmt.Errorf("migrate queue schema: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Int("max_size", maxSize).
		Int("max_retries", maxRetries).
		Msg("Durable retry queue opened")

	return &Queue{db: db, maxSize: maxSize, maxRetries: maxRetries}, nil
}

// Enqueue persists a failed record and returns its queue ID. If the active
// table is at capacity the single oldest record (by enqueue order) is
// evicted first; the eviction is logged as a data-loss risk, not raised.
func (q *Queue) Enqueue(record *domain.ParsedRecord, cause string) (int64, error) {
	payload, err := json.Marshal(record.Record)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	row := PendingRecord{
		RecordJSON: string(payload),
		GfxPCID:    record.GfxPCID,
		FilePath:   record.FilePath,
		LastError:  cause,
	}

	err = q.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PendingRecord{}).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(q.maxSize) {
			var oldest PendingRecord
			if err := tx.Order("created_at asc, id asc").First(&oldest).Error; err != nil {
				return err
			}
			if err := tx.Delete(&oldest).Error; err != nil {
				return err
			}
			log.Warn().
				Int64("evicted_id", oldest.ID).
				Str("evicted_path", oldest.FilePath).
				Int("capacity", q.maxSize).
				Msg("Queue at capacity, evicted oldest record")
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	log.Debug().
		Int64("queue_id", row.ID).
		Str("source", record.GfxPCID).
		Msg("Record queued for retry")
	return row.ID, nil
}

// DequeueBatch returns up to limit records in enqueue order. Records stay in
// the active table until marked succeeded or failed.
func (q *Queue) DequeueBatch(limit int) ([]domain.QueuedRecord, error) {
	var rows []PendingRecord
	if err := q.db.Order("id asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	out := make([]domain.QueuedRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.QueuedRecord{
			ID:         row.ID,
			Record:     json.RawMessage(row.RecordJSON),
			GfxPCID:    row.GfxPCID,
			FilePath:   row.FilePath,
			RetryCount: row.RetryCount,
			CreatedAt:  row.CreatedAt,
			LastError:  row.LastError,
		})
	}
	return out, nil
}

// MarkSucceeded removes delivered records from the active table.
func (q *Queue) MarkSucceeded(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.db.Delete(&PendingRecord{}, ids).Error; err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return nil
}

// MarkFailed increments the retry count. Once the count exceeds the
// configured ceiling the record moves to the dead-letter table and leaves
// the active one, both in a single transaction. Returns true when the
// record dead-lettered.
func (q *Queue) MarkFailed(id int64, cause string) (bool, error) {
	deadLettered := false
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var row PendingRecord
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warn().Int64("queue_id", id).Msg("MarkFailed on missing queue record")
				return nil
			}
			return err
		}

		if row.RetryCount+1 > q.maxRetries {
			dl := DeadLetter{
				RecordJSON:  row.RecordJSON,
				GfxPCID:     row.GfxPCID,
				FilePath:    row.FilePath,
				RetryCount:  row.RetryCount + 1,
				ErrorReason: cause,
			}
			if err := tx.Create(&dl).Error; err != nil {
				return err
			}
			if err := tx.Delete(&row).Error; err != nil {
				return err
			}
			deadLettered = true
			return nil
		}

		return tx.Model(&row).Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}

	if deadLettered {
		log.Warn().
			Int64("queue_id", id).
			Str("error", cause).
			Msg("Record moved to dead letter")
	}
	return deadLettered, nil
}

// PendingCount returns the number of active records.
func (q *Queue) PendingCount() (int64, error) {
	var count int64
	if err := q.db.Model(&PendingRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

// DeadLetterCount returns the number of dead-lettered records.
func (q *Queue) DeadLetterCount() (int64, error) {
	var count int64
	if err := q.db.Model(&DeadLetter{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("dead letter count: %w", err)
	}
	return count, nil
}

// DeadLetters returns up to limit dead-lettered records, newest first.
func (q *Queue) DeadLetters(limit int) ([]domain.DeadLetterRecord, error) {
	var rows []DeadLetter
	if err := q.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}

	out := make([]domain.DeadLetterRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.DeadLetterRecord{
			ID:          row.ID,
			Record:      json.RawMessage(row.RecordJSON),
			GfxPCID:     row.GfxPCID,
			FilePath:    row.FilePath,
			RetryCount:  row.RetryCount,
			ErrorReason: row.ErrorReason,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}

// RequeueDeadLetter moves one dead-lettered record back to the active table
// with a fresh retry count. Operator action; never automatic.
func (q *Queue) RequeueDeadLetter(id int64) (int64, error) {
	var newID int64
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var dl DeadLetter
		if err := tx.First(&dl, id).Error; err != nil {
			return err
		}
		row := PendingRecord{
			RecordJSON: dl.RecordJSON,
			GfxPCID:    dl.GfxPCID,
			FilePath:   dl.FilePath,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Delete(&dl).Error; err != nil {
			return err
		}
		newID = row.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}

	log.Info().
		Int64("dead_letter_id", id).
		Int64("queue_id", newID).
		Msg("Dead letter requeued")
	return newID, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	log.Info().Msg("Closing durable retry queue")
	return sqlDB.Close()
}
