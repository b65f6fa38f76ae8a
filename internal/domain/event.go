package domain

import "time"

// EventKind distinguishes first observation of a path from a later change.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
)

// FileEvent is emitted by the change detector for every new or changed file
// under a watched source directory.
type FileEvent struct {
	Path       string
	Kind       EventKind
	SourceID   string
	ModTime    time.Time
	Size       int64
	ObservedAt time.Time
}
