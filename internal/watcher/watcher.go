package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/garimto81/gfx-json/internal/domain"
	"github.com/garimto81/gfx-json/internal/registry"
)

// SourceProvider supplies the current set of watched directories. The
// watcher calls it at the start of every poll cycle so registry reloads
// take effect without restarting.
type SourceProvider func() []registry.Source

// Watcher polls source directories at a fixed interval and emits a
// FileEvent for every new or modified file matching the pattern. A file
// whose mtime and size are unchanged since the last observation produces
// no event.
type Watcher struct {
	sources      SourceProvider
	state        *StateStore
	pattern      string
	pollInterval time.Duration

	events chan domain.FileEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Events are delivered on the channel returned by
// Events; the channel is closed after Stop once the in-flight cycle
// finishes.
func New(sources SourceProvider, state *StateStore, pattern string, pollInterval time.Duration) *Watcher {
	return &Watcher{
		sources:      sources,
		state:        state,
		pattern:      pattern,
		pollInterval: pollInterval,
		events:       make(chan domain.FileEvent, 256),
	}
}

// Events returns the channel on which file events are delivered.
func (w *Watcher) Events() <-chan domain.FileEvent {
	return w.events
}

// Start launches the poll loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.events)

		log.Info().
			Dur("poll_interval", w.pollInterval).
			Str("pattern", w.pattern).
			Msg("Starting file watcher")

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("File watcher stopped")
				return
			case <-ticker.C:
				w.scan(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for the in-flight cycle to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// ScanOnce performs a single synchronous scan of all sources, emitting
// events for anything that changed since the persisted state. Used for
// the startup reconciliation pass before the poll loop begins.
func (w *Watcher) ScanOnce(ctx context.Context) {
	w.scan(ctx)
}

func (w *Watcher) scan(ctx context.Context) {
	for _, src := range w.sources() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.scanSource(ctx, src)
	}
}

func (w *Watcher) scanSource(ctx context.Context, src registry.Source) {
	matches, err := filepath.Glob(filepath.Join(src.Path, w.pattern))
	if err != nil {
		log.Error().Err(err).
			Str("source_id", src.ID).
			Str("path", src.Path).
			Msg("Failed to glob source directory")
		return
	}

	for _, path := range matches {
		select {
		case <-ctx.Done():
			return
		default:
		}

		info, err := os.Stat(path)
		if err != nil {
			// File vanished between glob and stat, skip it
			if os.IsNotExist(err) {
				continue
			}
			log.Warn().Err(err).Str("file", path).Msg("Failed to stat file")
			continue
		}
		if info.IsDir() {
			continue
		}

		observed := FileState{
			ModTimeUnixNano: info.ModTime().UnixNano(),
			Size:            info.Size(),
		}

		prev, known, err := w.state.Get(src.ID, path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read file state")
			continue
		}

		var kind domain.EventKind
		switch {
		case !known:
			kind = domain.EventCreated
		case prev.ModTimeUnixNano != observed.ModTimeUnixNano || prev.Size != observed.Size:
			kind = domain.EventModified
		default:
			continue
		}

		ev := domain.FileEvent{
			Path:       path,
			Kind:       kind,
			SourceID:   src.ID,
			ModTime:    info.ModTime(),
			Size:       info.Size(),
			ObservedAt: time.Now(),
		}

		// State commits only after the event is handed off. An abandoned
		// send leaves the old state in place so the next cycle re-emits.
		select {
		case w.events <- ev:
		case <-ctx.Done():
			return
		}

		if err := w.state.Set(src.ID, path, observed); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to persist file state")
		}
	}
}

// Forget drops the persisted state for a path so the next poll cycle
// re-announces it as created. Used by the consumer when a delivered event
// could not be processed.
func (w *Watcher) Forget(sourceID, path string) error {
	return w.state.Delete(sourceID, path)
}
