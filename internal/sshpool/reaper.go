package sshpool

import (
	"context"
	"log/slog"
	"time"
)

// RunReaper runs pool maintenance at the configured cadence until ctx is
// cancelled. Intended to be launched as a goroutine at startup.
func (p *Pool) RunReaper(ctx context.Context) {
	t := time.NewTicker(p.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.reap(ctx)
		}
	}
}

// reap makes one maintenance pass over both pools. Each entry gets two
// independent checks: entries idle past IdleAfter are evicted outright, and
// surviving entries unused past HealthAfter are probed, with failures
// evicted. Entries with outstanding leases are left alone; their lastUsed is
// refreshed by the borrow path.
func (p *Pool) reap(ctx context.Context) {
	cleaned := 0
	checked := 0
	cleaned += p.reapMap(ctx, p.conns, healthCommand, &checked)
	cleaned += p.reapMap(ctx, p.jumps, jumpHealthCommand, &checked)
	if cleaned > 0 || checked > 0 {
		slog.Info("connection pool maintenance", "cleaned", cleaned, "checked", checked)
	}
}

func (p *Pool) reapMap(ctx context.Context, m map[string]*entry, probeCmd string, checked *int) int {
	// Snapshot under the lock; probing happens outside it.
	p.mu.Lock()
	entries := make([]*entry, 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	cleaned := 0
	for _, e := range entries {
		p.mu.Lock()
		if e.evicted || m[e.key] != e {
			p.mu.Unlock()
			continue
		}
		if e.refs > 0 {
			// Currently borrowed; never close a session in use.
			p.mu.Unlock()
			continue
		}
		idle := p.now().Sub(e.lastUsed)
		if idle > p.cfg.IdleAfter {
			p.evictEntry(m, e)
			p.mu.Unlock()
			cleaned++
			slog.Debug("evicted idle ssh connection", "key", e.key, "idle", idle)
			continue
		}
		if idle <= p.cfg.HealthAfter {
			p.mu.Unlock()
			continue
		}
		// Hold a borrow across the probe so a racing Evict cannot close the
		// connection underneath us.
		e.refs++
		p.mu.Unlock()

		*checked++
		err := runProbe(ctx, e.conn, probeCmd, p.cfg.HealthProbeTimeout)

		p.mu.Lock()
		if err != nil {
			slog.Warn("health check failed for pooled ssh connection", "key", e.key, "error", err)
			p.evictEntry(m, e) // our borrow is still held, so no close yet
			cleaned++
		} else {
			slog.Debug("pooled ssh connection is healthy", "key", e.key)
		}
		e.refs--
		shouldClose := e.evicted && e.refs == 0
		p.mu.Unlock()
		if shouldClose {
			_ = e.conn.Close()
		}
	}
	return cleaned
}
