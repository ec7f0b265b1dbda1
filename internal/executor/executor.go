// Package executor runs a batch of remote commands and streams the outcomes.
//
// Fan-out happens in two tiers with separate caps: the scheduler bounds how
// many hosts are worked concurrently (protecting this process's transport
// usage), and each host worker bounds how many commands run at once on one
// session (protecting the remote sshd from channel exhaustion). Per-command
// failures retry with exponential backoff; a lost transport is re-acquired
// from the pool between attempts.
package executor

import (
	"context"
	"time"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/sshpool"
)

const (
	// maxAttempts bounds both the connect phase and each command's retries.
	maxAttempts = 3

	// launchTimeout bounds session creation and command start.
	launchTimeout = 60 * time.Second

	// streamTimeout bounds draining a command's stdout.
	streamTimeout = 300 * time.Second

	// waitGrace is how long to wait for an exit status after the stream
	// timed out; the remote process may never return.
	waitGrace = 5 * time.Second

	// flushThreshold is the sink buffer size that triggers an early flush.
	flushThreshold = 20

	// timeoutMarker is appended to the collected output when the stream
	// timeout fires.
	timeoutMarker = "\n[Command timed out after 300 seconds]"
)

// backoffDelay returns the sleep before the attempt following attempt n:
// 2s, 4s, 8s.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Stream receives outbound frames. Implementations must serialize writes so
// each frame stays atomic; ordering across commands is not required.
type Stream interface {
	Send(v any) error
}

// ResultWriter persists executed command outcomes.
type ResultWriter interface {
	SaveResults(ctx context.Context, results []model.CommandResult) error
}

// ConnPool is the slice of the connection pool the executor needs.
type ConnPool interface {
	AcquireDirect(ctx context.Context, host, user, password string, port int) (*sshpool.Lease, error)
	AcquireJump(ctx context.Context, host, user string, port int) (*sshpool.Lease, error)
	AcquireViaJump(ctx context.Context, host, user, password string, port int, jump *sshpool.Lease) (*sshpool.Lease, error)
	Evict(key string)
}

// Limits holds the two fan-out caps.
type Limits struct {
	BatchHosts   int
	HostCommands int
}

// Scheduler executes batches against the pool and reports to a stream and
// the result writer.
type Scheduler struct {
	pool    ConnPool
	results ResultWriter
	limits  Limits

	// sleep, streamTimeout and waitGrace are replaceable so tests don't sit
	// through real backoff or the full stream timeout.
	sleep         func(ctx context.Context, d time.Duration)
	streamTimeout time.Duration
	waitGrace     time.Duration
}

// New creates a scheduler. A nil results writer disables persistence.
func New(pool ConnPool, results ResultWriter, limits Limits) *Scheduler {
	if limits.BatchHosts <= 0 {
		limits.BatchHosts = 20
	}
	if limits.HostCommands <= 0 {
		limits.HostCommands = 5
	}
	return &Scheduler{
		pool:          pool,
		results:       results,
		limits:        limits,
		sleep:         sleepCtx,
		streamTimeout: streamTimeout,
		waitGrace:     waitGrace,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
