package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/sshpool"
)

// hostConn tracks the live leases for one row so concurrent command runners
// can share a single reconnect instead of racing to re-dial. The generation
// counter lets a runner tell whether another runner already replaced the
// connection it saw fail.
type hostConn struct {
	mu     sync.Mutex
	pool   ConnPool
	row    model.Row
	target *sshpool.Lease
	jump   *sshpool.Lease
	gen    int
}

// current returns the live connection and its generation.
func (h *hostConn) current() (sshpool.Conn, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target.Conn, h.gen
}

// connect acquires the row's session: jump first, then target through the
// tunnel, or directly when no jump host is configured.
func (h *hostConn) connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectLocked(ctx)
}

func (h *hostConn) connectLocked(ctx context.Context) error {
	row := h.row
	if row.UsesJump() {
		jump, err := h.pool.AcquireJump(ctx, row.JumpServer.IP, row.JumpServer.User, row.JumpServer.PortOrDefault())
		if err != nil {
			return err
		}
		target, err := h.pool.AcquireViaJump(ctx, row.IP, row.User, row.Password, row.Port, jump)
		if err != nil {
			jump.Release()
			return err
		}
		h.jump, h.target = jump, target
	} else {
		target, err := h.pool.AcquireDirect(ctx, row.IP, row.User, row.Password, row.Port)
		if err != nil {
			return err
		}
		h.target = target
	}
	h.gen++
	return nil
}

// reconnect replaces the connection that gen refers to. If another runner
// already reconnected, this is a no-op. The dead entry is evicted from the
// pool so the re-acquire dials fresh; the jump session is re-acquired too
// (the pool's probe makes that cheap when it is still healthy).
func (h *hostConn) reconnect(ctx context.Context, gen int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return nil
	}
	h.pool.Evict(h.target.Key)
	h.releaseLocked()
	return h.connectLocked(ctx)
}

func (h *hostConn) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked()
}

func (h *hostConn) releaseLocked() {
	if h.target != nil {
		h.target.Release()
		h.target = nil
	}
	if h.jump != nil {
		h.jump.Release()
		h.jump = nil
	}
}

// runRow processes one host: a connect phase with bounded backoff retries,
// then the row's commands under the per-host cap. A connect failure emits a
// single row-level error frame and no command frames.
func (s *Scheduler) runRow(ctx context.Context, requestID string, row model.Row, out Stream) {
	log := slog.With("request_id", requestID, "row_id", row.RowID, "ip", row.IP)

	h := &hostConn{pool: s.pool, row: row}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if row.UsesJump() {
			log.Info("connecting via jump server",
				"jump_ip", row.JumpServer.IP, "jump_port", row.JumpServer.PortOrDefault())
		}
		lastErr = h.connect(ctx)
		if lastErr == nil {
			break
		}
		log.Warn("ssh connection attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < maxAttempts {
			s.sleep(ctx, backoffDelay(attempt))
		}
	}
	if lastErr != nil {
		msg := fmt.Sprintf("SSH connection failed after %d attempts: %v", maxAttempts, lastErr)
		if row.UsesJump() {
			msg = fmt.Sprintf("Jump server connection failed after %d attempts: %v", maxAttempts, lastErr)
		}
		log.Error("connect phase failed", "error", lastErr)
		if err := out.Send(model.RowErrorFrame{RowID: row.RowID, Error: msg}); err != nil {
			log.Warn("failed to send row error frame", "error", err)
		}
		return
	}
	defer h.close()
	log.Info("ssh connection established", "elapsed", time.Since(start).Round(time.Millisecond))

	sink := newResultSink(s.results, row)
	sem := semaphore.NewWeighted(int64(s.limits.HostCommands))
	var wg sync.WaitGroup
	for _, command := range row.Commands {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn("stopping command dispatch", "error", err)
			break
		}
		command := command
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.runCommand(ctx, h, row, command, out, sink, log)
		}()
	}
	wg.Wait()
	sink.Flush(ctx)
}
