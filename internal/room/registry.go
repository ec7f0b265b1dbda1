// Package room couples the submit endpoint to the streaming endpoint.
//
// Submitting a batch stores it under a freshly minted room token; the client
// then opens the stream for that token to drain results. Rooms that are never
// drained expire after a TTL so abandoned submissions don't accumulate.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/util"
)

// ErrEmptyBatch rejects execute requests with no rows.
var ErrEmptyBatch = errors.New("no server data provided")

// Registry holds pending batches keyed by room token.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
	ttl   time.Duration
	now   func() time.Time
}

type roomEntry struct {
	batch     model.Batch
	expiresAt time.Time
}

// NewRegistry creates a registry whose rooms expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		rooms: make(map[string]*roomEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create validates rows, mints a room token and request id, and stores the
// batch. Validation failures leave no state behind.
func (r *Registry) Create(rows []model.Row) (model.Batch, error) {
	if len(rows) == 0 {
		return model.Batch{}, ErrEmptyBatch
	}
	for _, row := range rows {
		if err := validateRow(row); err != nil {
			return model.Batch{}, err
		}
	}

	commandCount := 0
	for _, row := range rows {
		commandCount += len(row.Commands)
	}
	batch := model.Batch{
		RequestID:    "req-" + shortToken(),
		Room:         roomToken(),
		Rows:         rows,
		CreatedAt:    r.now().UTC(),
		ServerCount:  len(rows),
		CommandCount: commandCount,
	}

	r.mu.Lock()
	r.rooms[batch.Room] = &roomEntry{batch: batch, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return batch, nil
}

func validateRow(row model.Row) error {
	if err := util.ValidatePort(row.Port); err != nil {
		return fmt.Errorf("row %s: %w", row.RowID, err)
	}
	if row.JumpServer != nil && row.JumpServer.Enabled {
		if strings.TrimSpace(row.JumpServer.IP) == "" {
			return fmt.Errorf("row %s: jump server IP is required when jump server is enabled", row.RowID)
		}
		if strings.TrimSpace(row.JumpServer.User) == "" {
			return fmt.Errorf("row %s: jump server username is required when jump server is enabled", row.RowID)
		}
	}
	return nil
}

// Take returns the batch stored under room, if any. The read is
// non-destructive: the batch stays available until the TTL sweep removes it,
// so a reconnecting client can re-attach within the window.
func (r *Registry) Take(room string) (model.Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok {
		return model.Batch{}, false
	}
	if r.now().After(e.expiresAt) {
		delete(r.rooms, room)
		return model.Batch{}, false
	}
	return e.batch, true
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RunSweeper removes expired rooms at the given cadence until ctx is
// cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for room, e := range r.rooms {
		if now.After(e.expiresAt) {
			delete(r.rooms, room)
		}
	}
}

// roomToken mints a high-entropy subscription key: a uuid without dashes.
func roomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// shortToken is an 8-hex-char correlation tag for logs.
func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
