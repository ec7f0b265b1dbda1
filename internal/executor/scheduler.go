package executor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/treykane/fleetcmd/internal/model"
)

// Execute runs every row of the batch and sends the terminal completed frame
// once all rows have been processed, whatever their individual outcomes. A
// non-nil error is returned only when scheduling itself fell over; the caller
// is expected to surface it to the subscriber as an error frame.
func (s *Scheduler) Execute(ctx context.Context, batch model.Batch, out Stream) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch scheduling failed: %v", r)
		}
	}()

	log := slog.With("request_id", batch.RequestID, "room", batch.Room)
	log.Info("executing batch",
		"server_count", batch.ServerCount,
		"command_count", batch.CommandCount)

	g := new(errgroup.Group)
	g.SetLimit(s.limits.BatchHosts)
	for _, row := range batch.Rows {
		row := row
		g.Go(func() error {
			s.runRow(ctx, batch.RequestID, row, out)
			return nil
		})
	}
	// Workers report failures as frames, never as errors; Wait is a join.
	_ = g.Wait()

	if sendErr := out.Send(model.Completed()); sendErr != nil {
		log.Warn("subscriber gone before completion frame", "error", sendErr)
	}
	log.Info("all commands completed")
	return nil
}
