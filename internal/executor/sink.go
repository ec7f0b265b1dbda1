package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/treykane/fleetcmd/internal/model"
)

// resultSink buffers one row's outcomes and writes them in batches: when the
// buffer reaches flushThreshold, and once more at end of row. Write failures
// are logged and the batch dropped; outcomes already streamed to the
// subscriber are never retracted.
type resultSink struct {
	mu     sync.Mutex
	writer ResultWriter
	row    model.Row
	buf    []model.CommandResult
}

func newResultSink(writer ResultWriter, row model.Row) *resultSink {
	return &resultSink{writer: writer, row: row}
}

// Add buffers one outcome, flushing if the threshold is reached. The stored
// record carries the password placeholder, never the row's credential.
func (k *resultSink) Add(command, output string, exit *int) {
	k.mu.Lock()
	k.buf = append(k.buf, model.CommandResult{
		IP:         k.row.IP,
		User:       k.row.User,
		Password:   model.PasswordPlaceholder,
		Port:       k.row.Port,
		Command:    command,
		Output:     output,
		ExitStatus: exit,
		Timestamp:  time.Now().UTC(),
	})
	var flush []model.CommandResult
	if len(k.buf) >= flushThreshold {
		flush = k.buf
		k.buf = nil
	}
	k.mu.Unlock()
	k.write(flush)
}

// Flush writes whatever is buffered. Called at end of row.
func (k *resultSink) Flush(ctx context.Context) {
	k.mu.Lock()
	flush := k.buf
	k.buf = nil
	k.mu.Unlock()
	k.writeCtx(ctx, flush)
}

func (k *resultSink) write(batch []model.CommandResult) {
	// Persistence is decoupled from the commands' contexts; a disconnected
	// subscriber must not cancel the audit trail.
	k.writeCtx(context.Background(), batch)
}

func (k *resultSink) writeCtx(ctx context.Context, batch []model.CommandResult) {
	if len(batch) == 0 || k.writer == nil {
		return
	}
	if err := k.writer.SaveResults(ctx, batch); err != nil {
		slog.Error("failed to save results batch", "count", len(batch), "error", err)
	}
}
