package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/garimto81/gfx-json/internal/batch"
	"github.com/garimto81/gfx-json/internal/config"
	"github.com/garimto81/gfx-json/internal/domain"
	"github.com/garimto81/gfx-json/internal/parser"
	"github.com/garimto81/gfx-json/internal/queue"
	"github.com/garimto81/gfx-json/internal/registry"
	"github.com/garimto81/gfx-json/internal/retry"
	"github.com/garimto81/gfx-json/internal/supabase"
)

const registryReloadInterval = 30 * time.Second

// UpsertSink is the remote delivery surface the agent pushes records into.
type UpsertSink interface {
	Upsert(ctx context.Context, table string, records []json.RawMessage, conflictKey string) supabase.UpsertResult
}

// ChangeSource emits file events for watched directories. Forget drops the
// observation state for a path so it is re-announced on the next cycle.
type ChangeSource interface {
	Events() <-chan domain.FileEvent
	Start(ctx context.Context)
	Stop()
	ScanOnce(ctx context.Context)
	Forget(sourceID, path string) error
}

// Agent wires the watcher, parser, batch accumulator, durable queue and
// remote client into the sync pipeline. Created files take the immediate
// delivery path; modified files are batched. Failed deliveries land in the
// durable queue and are redriven on a timer.
type Agent struct {
	cfg        *config.Config
	instanceID string

	registry *registry.Registry
	watcher  ChangeSource
	parser   *parser.Parser
	client   UpsertSink
	batch    *batch.Accumulator
	queue    *queue.Queue
	policy   retry.Policy
	tracer   trace.Tracer

	cancel     context.CancelFunc
	consumerWg sync.WaitGroup
	loopWg     sync.WaitGroup

	mu         sync.RWMutex
	running    bool
	lastSyncAt time.Time
}

// New wires an agent from its components. The caller owns the client,
// queue and watcher state store lifecycles; Stop does not close them.
func New(cfg *config.Config, reg *registry.Registry, w ChangeSource, client UpsertSink, q *queue.Queue) *Agent {
	return &Agent{
		cfg:        cfg,
		instanceID: uuid.New().String(),
		registry:   reg,
		watcher:    w,
		parser:     parser.New(),
		client:     client,
		batch:      batch.NewAccumulator(cfg.BatchMaxSize, cfg.FlushInterval),
		queue:      q,
		policy: retry.Policy{
			MaxAttempts: cfg.RateLimitMaxRetries,
			BaseDelay:   cfg.RateLimitBaseDelay,
			MaxDelay:    60 * time.Second,
		},
		tracer: otel.Tracer("sync-agent"),
	}
}

// InstanceID returns the unique ID of this agent process.
func (a *Agent) InstanceID() string {
	return a.instanceID
}

// Start performs the startup reconciliation scan, then launches the
// watcher, the event consumer and the timer loops.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	log.Info().
		Str("instance_id", a.instanceID).
		Int("sources", len(a.registry.Enabled())).
		Msg("Starting sync agent")

	// Event consumer runs before the first scan so the startup pass does
	// not block on a full channel.
	a.consumerWg.Add(1)
	go func() {
		defer a.consumerWg.Done()
		for ev := range a.watcher.Events() {
			a.handleEvent(ctx, ev)
		}
	}()

	// Startup reconciliation: anything created or modified while the
	// agent was down surfaces as an event against the persisted state.
	a.watcher.ScanOnce(ctx)
	a.watcher.Start(ctx)

	a.loopWg.Add(1)
	go a.flushLoop(ctx)
	a.loopWg.Add(1)
	go a.redriveLoop(ctx)
	a.loopWg.Add(1)
	go a.reloadLoop(ctx)
}

// Stop drains the pipeline in order: no new events, flush the pending
// batch, finish the in-flight redrive. Safe to call once.
func (a *Agent) Stop() {
	log.Info().Str("instance_id", a.instanceID).Msg("Stopping sync agent")

	a.watcher.Stop()
	a.consumerWg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if pending := a.batch.Flush(); len(pending) > 0 {
		a.deliverBatch(shutdownCtx, pending)
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.loopWg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("Sync agent stopped")
}

// Stats returns a point-in-time snapshot for the health surface. Count
// errors degrade to zero rather than failing the snapshot.
func (a *Agent) Stats() domain.AgentStats {
	a.mu.RLock()
	running := a.running
	lastSync := a.lastSyncAt
	a.mu.RUnlock()

	pending, err := a.queue.PendingCount()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count pending queue records")
	}
	dead, err := a.queue.DeadLetterCount()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count dead letter records")
	}

	sources := a.registry.Enabled()
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}

	return domain.AgentStats{
		InstanceID:      a.instanceID,
		Running:         running,
		BatchPending:    a.batch.PendingCount(),
		QueuePending:    pending,
		DeadLetterCount: dead,
		LastSyncAt:      lastSync,
		WatchedSources:  ids,
	}
}

func (a *Agent) handleEvent(ctx context.Context, ev domain.FileEvent) {
	ctx, span := a.tracer.Start(ctx, "agent.handle_event",
		trace.WithAttributes(
			attribute.String("file.path", ev.Path),
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("source.id", ev.SourceID),
		))
	defer span.End()

	rawBytes, err := os.ReadFile(ev.Path)
	if err != nil {
		// Likely still being written or already moved. Drop the observation
		// state so the next poll cycle re-announces the path; without this
		// the record would be lost until the file changes again.
		log.Warn().Err(err).Str("file", ev.Path).Msg("Failed to read file, will re-announce")
		if ferr := a.watcher.Forget(ev.SourceID, ev.Path); ferr != nil {
			log.Error().Err(ferr).Str("file", ev.Path).Msg("Failed to reset file state")
		}
		return
	}

	rec, err := a.parser.Parse(rawBytes, filepath.Base(ev.Path), ev.SourceID)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			a.quarantine(ev, parseErr)
			return
		}
		log.Error().Err(err).Str("file", ev.Path).Msg("Unexpected parse failure")
		return
	}
	rec.FilePath = ev.Path

	switch ev.Kind {
	case domain.EventCreated:
		outcome := a.syncImmediate(ctx, rec)
		log.Debug().
			Str("file", ev.Path).
			Str("status", string(outcome.Status)).
			Msg("Immediate sync finished")
	case domain.EventModified:
		if drained := a.batch.Add(rec); drained != nil {
			a.deliverBatch(ctx, drained)
		}
	}
}

func (a *Agent) quarantine(ev domain.FileEvent, parseErr *parser.ParseError) {
	dst, err := sideFile(ev.Path, ev.SourceID, a.cfg.FullErrorDir())
	if err != nil {
		log.Error().Err(err).
			Str("file", ev.Path).
			Msg("Failed to quarantine unparseable file")
		// The file is still in place; re-announce so the move is retried.
		if ferr := a.watcher.Forget(ev.SourceID, ev.Path); ferr != nil {
			log.Error().Err(ferr).Str("file", ev.Path).Msg("Failed to reset file state")
		}
		return
	}
	// The path no longer exists under the source; drop its state entry.
	if ferr := a.watcher.Forget(ev.SourceID, ev.Path); ferr != nil {
		log.Error().Err(ferr).Str("file", ev.Path).Msg("Failed to reset file state")
	}
	log.Warn().
		Str("file", ev.Path).
		Str("quarantined_to", dst).
		Str("reason", parseErr.Reason).
		Msg("Unparseable file quarantined")
}

// syncImmediate delivers a single record, retrying rate limits and
// transient failures with backoff. Exhausted or fatal deliveries go to
// the durable queue with a fresh retry budget.
func (a *Agent) syncImmediate(ctx context.Context, rec *domain.ParsedRecord) domain.SyncOutcome {
	payload, err := json.Marshal(rec.Record)
	if err != nil {
		return domain.SyncOutcome{Status: domain.OutcomeFatal, Err: fmt.Errorf("marshal record: %w", err)}
	}

	err = retry.Do(ctx, a.policy, func(attempt int) retry.Attempt {
		result := a.client.Upsert(ctx, a.cfg.SupabaseTable, []json.RawMessage{payload}, a.cfg.ConflictKey)
		switch result.Status {
		case supabase.StatusOK:
			return retry.Attempt{}
		case supabase.StatusRateLimited:
			return retry.Attempt{Retryable: true, Floor: result.RetryAfter, Err: result.Err}
		case supabase.StatusTransient:
			return retry.Attempt{Retryable: true, Err: result.Err}
		default:
			return retry.Attempt{Err: result.Err}
		}
	})
	if err == nil {
		a.markSynced()
		return domain.SyncOutcome{Status: domain.OutcomeSuccess}
	}

	if _, qerr := a.queue.Enqueue(rec, err.Error()); qerr != nil {
		log.Error().Err(qerr).
			Str("file", rec.FilePath).
			Msg("Failed to enqueue record after delivery failure")
		return domain.SyncOutcome{Status: domain.OutcomeFatal, Err: qerr}
	}
	return domain.SyncOutcome{Status: domain.OutcomeQueued, Err: err}
}

// deliverBatch upserts a drained batch in one request. The batch either
// lands whole or every record is enqueued individually.
func (a *Agent) deliverBatch(ctx context.Context, records []*domain.ParsedRecord) {
	ctx, span := a.tracer.Start(ctx, "agent.deliver_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(records))))
	defer span.End()

	payloads := make([]json.RawMessage, 0, len(records))
	marshalled := make([]*domain.ParsedRecord, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Record)
		if err != nil {
			log.Error().Err(err).Str("file", rec.FilePath).Msg("Failed to marshal record, dropping")
			continue
		}
		payloads = append(payloads, payload)
		marshalled = append(marshalled, rec)
	}
	if len(payloads) == 0 {
		return
	}

	err := retry.Do(ctx, a.policy, func(attempt int) retry.Attempt {
		result := a.client.Upsert(ctx, a.cfg.SupabaseTable, payloads, a.cfg.ConflictKey)
		switch result.Status {
		case supabase.StatusOK:
			return retry.Attempt{}
		case supabase.StatusRateLimited:
			return retry.Attempt{Retryable: true, Floor: result.RetryAfter, Err: result.Err}
		case supabase.StatusTransient:
			return retry.Attempt{Retryable: true, Err: result.Err}
		default:
			return retry.Attempt{Err: result.Err}
		}
	})
	if err == nil {
		a.markSynced()
		log.Info().Int("count", len(marshalled)).Msg("Batch delivered")
		return
	}

	log.Warn().Err(err).
		Int("count", len(marshalled)).
		Msg("Batch delivery failed, enqueueing records")
	for _, rec := range marshalled {
		if _, qerr := a.queue.Enqueue(rec, err.Error()); qerr != nil {
			log.Error().Err(qerr).Str("file", rec.FilePath).Msg("Failed to enqueue record")
		}
	}
}

func (a *Agent) flushLoop(ctx context.Context) {
	defer a.loopWg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if due := a.batch.FlushDue(); due != nil {
				a.deliverBatch(ctx, due)
			}
		}
	}
}

func (a *Agent) redriveLoop(ctx context.Context) {
	defer a.loopWg.Done()

	ticker := time.NewTicker(a.cfg.RedriveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.redrive(ctx)
		}
	}
}

// redrive replays a slice of the durable queue against the remote store.
// A rate-limited response leaves the rows untouched for the next cycle;
// other failures consume one retry each and may dead-letter.
func (a *Agent) redrive(ctx context.Context) {
	rows, err := a.queue.DequeueBatch(a.cfg.RedriveBatchLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read retry queue")
		return
	}
	if len(rows) == 0 {
		return
	}

	ctx, span := a.tracer.Start(ctx, "agent.redrive",
		trace.WithAttributes(attribute.Int("batch.size", len(rows))))
	defer span.End()

	payloads := make([]json.RawMessage, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, row.Record)
		ids = append(ids, row.ID)
	}

	result := a.client.Upsert(ctx, a.cfg.SupabaseTable, payloads, a.cfg.ConflictKey)
	switch result.Status {
	case supabase.StatusOK:
		if err := a.queue.MarkSucceeded(ids); err != nil {
			log.Error().Err(err).Msg("Failed to remove redriven records from queue")
			return
		}
		a.markSynced()
		log.Info().Int("count", len(ids)).Msg("Redrive delivered queued records")
	case supabase.StatusRateLimited:
		log.Warn().
			Dur("retry_after", result.RetryAfter).
			Int("count", len(ids)).
			Msg("Redrive rate limited, keeping records for next cycle")
	default:
		cause := "delivery failed"
		if result.Err != nil {
			cause = result.Err.Error()
		}
		deadLettered := 0
		for _, id := range ids {
			moved, err := a.queue.MarkFailed(id, cause)
			if err != nil {
				log.Error().Err(err).Int64("queue_id", id).Msg("Failed to record queue failure")
				continue
			}
			if moved {
				deadLettered++
			}
		}
		log.Warn().Err(result.Err).
			Int("count", len(ids)).
			Int("dead_lettered", deadLettered).
			Msg("Redrive delivery failed")
	}
}

func (a *Agent) reloadLoop(ctx context.Context) {
	defer a.loopWg.Done()

	ticker := time.NewTicker(registryReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reloaded, err := a.registry.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("Registry reload failed, keeping previous sources")
				continue
			}
			if reloaded {
				log.Info().Int("sources", len(a.registry.Enabled())).Msg("Source registry reloaded")
			}
		}
	}
}

func (a *Agent) markSynced() {
	a.mu.Lock()
	a.lastSyncAt = time.Now()
	a.mu.Unlock()
}
