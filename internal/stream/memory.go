package stream

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
)

// MemoryLog - in-process append-only log. Tokens are the 1-based positions of the entries.
// SetOffline makes every call fail with ErrConnectionLost until it is switched back.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	offline bool
	changed chan struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{changed: make(chan struct{})}
}

func (that *MemoryLog) Append(_ context.Context, values map[string]string) (string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.offline {
		return "", apperror.ErrConnectionLost
	}

	token := strconv.Itoa(len(that.entries) + 1)
	that.entries = append(that.entries, Entry{Token: token, Values: maps.Clone(values)})
	that.notifyLocked()

	return token, nil
}

func (that *MemoryLog) Snapshot(_ context.Context) ([]Entry, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.offline {
		return nil, apperror.ErrConnectionLost
	}

	return cloneEntries(that.entries), nil
}

func (that *MemoryLog) Tail(ctx context.Context, after string) ([]Entry, error) {
	position := 0
	if after != "" {
		var err error
		if position, err = strconv.Atoi(after); err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", after, err)
		}
	}

	for {
		that.mu.Lock()
		if that.offline {
			that.mu.Unlock()
			return nil, apperror.ErrConnectionLost
		}

		if position < len(that.entries) {
			entries := cloneEntries(that.entries[position:])
			that.mu.Unlock()

			return entries, nil
		}

		changed := that.changed
		that.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (that *MemoryLog) Ping(_ context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.offline {
		return apperror.ErrConnectionLost
	}

	return nil
}

// SetOffline - simulates losing or regaining the connection to the log.
func (that *MemoryLog) SetOffline(offline bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.offline = offline
	that.notifyLocked()
}

// Len - number of entries in the log.
func (that *MemoryLog) Len() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.entries)
}

func (that *MemoryLog) notifyLocked() {
	close(that.changed)
	that.changed = make(chan struct{})
}

func cloneEntries(entries []Entry) []Entry {
	cloned := make([]Entry, len(entries))
	for i, entry := range entries {
		cloned[i] = Entry{Token: entry.Token, Values: maps.Clone(entry.Values)}
	}

	return cloned
}
