package stream

import (
	"context"
	"fmt"
)

type EventKind int

const (
	EventSnapshot EventKind = iota + 1
	EventDelta
	EventConnectionLost
	EventConnectionRestored
)

func (that EventKind) String() string {
	switch that {
	case EventSnapshot:
		return "snapshot"
	case EventDelta:
		return "delta"
	case EventConnectionLost:
		return "connection_lost"
	case EventConnectionRestored:
		return "connection_restored"
	default:
		return fmt.Sprintf("event(%d)", int(that))
	}
}

// Entry - one raw record of the log. Token is the id the log assigned to it.
type Entry struct {
	Token  string
	Values map[string]string
}

// Event - unit of delivery to the consumer. A snapshot carries the whole log, a delta exactly one
// entry, connection events carry the cause in Err when known.
type Event struct {
	Kind    EventKind
	Entries []Entry
	Err     error
}

// Handler - consumer of events. A returned error ends the subscription.
type Handler func(event Event) error

// Source - read side of the remote log.
type Source interface {
	// Snapshot - every entry of the log in order.
	Snapshot(ctx context.Context) ([]Entry, error)
	// Tail - blocks until entries after the given token exist and returns them in order. An empty
	// token means the beginning of the log. No entries and no error means the wait timed out.
	Tail(ctx context.Context, after string) ([]Entry, error)
	Ping(ctx context.Context) error
}

// Publisher - write side of the remote log.
type Publisher interface {
	Append(ctx context.Context, values map[string]string) (string, error)
}

// Log - a remote log that can be both read and written.
type Log interface {
	Source
	Publisher
}
