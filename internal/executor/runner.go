package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/sshpool"
)

// errLaunchTimeout marks a command that could not be started within
// launchTimeout; it is retryable like any other timeout.
var errLaunchTimeout = errors.New("command launch timed out")

// runCommand drives one command through launch, stream, wait and emit, with
// bounded retries. Transport loss triggers a shared reconnect before the next
// attempt. The outcome is exactly one frame: a result frame on success, a
// command error frame on exhaustion.
func (s *Scheduler) runCommand(ctx context.Context, h *hostConn, row model.Row, command string, out Stream, sink *resultSink, log *slog.Logger) {
	log = log.With("command", command)
	start := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, gen := h.current()
		output, exit, err := s.attemptCommand(ctx, conn, command)
		if err == nil {
			frame := model.ResultFrame{RowID: row.RowID, Command: command, Output: output, ExitStatus: exit}
			if sendErr := out.Send(frame); sendErr != nil {
				// Subscriber is gone; the outcome is still persisted.
				log.Warn("dropping result frame", "error", sendErr)
			}
			log.Info("command executed",
				"elapsed", time.Since(start).Round(time.Millisecond),
				"exit_status", exit)
			sink.Add(command, output, exit)
			return
		}

		switch {
		case sshpool.IsDisconnect(err):
			log.Warn("ssh connection lost during command", "attempt", attempt, "error", err)
			if attempt >= maxAttempts {
				s.sendCommandError(out, row, command,
					fmt.Sprintf("SSH connection failed after %d attempts: %v", maxAttempts, err), log)
				return
			}
			if rerr := h.reconnect(ctx, gen); rerr != nil {
				log.Error("failed to re-establish ssh connection", "error", rerr)
				s.sendCommandError(out, row, command,
					fmt.Sprintf("SSH reconnect failed: %v", rerr), log)
				return
			}
			log.Info("ssh connection re-established for retry")
			s.sleep(ctx, backoffDelay(attempt))

		case errors.Is(err, errLaunchTimeout):
			log.Warn("command launch timed out", "attempt", attempt)
			if attempt >= maxAttempts {
				s.sendCommandError(out, row, command,
					"Command execution timed out after multiple attempts", log)
				return
			}
			s.sleep(ctx, backoffDelay(attempt))

		default:
			log.Error("error executing command", "attempt", attempt, "error", err)
			if attempt >= maxAttempts {
				s.sendCommandError(out, row, command, err.Error(), log)
				return
			}
			s.sleep(ctx, backoffDelay(attempt))
		}
	}
}

func (s *Scheduler) sendCommandError(out Stream, row model.Row, command, msg string, log *slog.Logger) {
	if err := out.Send(model.CommandErrorFrame{RowID: row.RowID, Command: command, Error: msg}); err != nil {
		log.Warn("failed to send command error frame", "error", err)
	}
}

// attemptCommand makes a single pass through the launch/stream/wait states.
// A stream timeout is not an error: the marker is appended to whatever output
// was collected and the exit status is awaited briefly, possibly staying nil.
func (s *Scheduler) attemptCommand(ctx context.Context, conn sshpool.Conn, command string) (string, *int, error) {
	launchCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	cmd, err := conn.Start(launchCtx, command)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, errLaunchTimeout
		}
		return "", nil, err
	}
	defer cmd.Close()

	output, timedOut, err := drainStdout(ctx, cmd.Stdout(), s.streamTimeout)
	if err != nil {
		return "", nil, err
	}
	if timedOut {
		return output + timeoutMarker, waitWithGrace(cmd, s.waitGrace), nil
	}

	exit, err := cmd.Wait()
	if err != nil {
		return "", nil, err
	}
	return output, exit, nil
}

// drainStdout reads r to EOF or until timeout fires, returning the collected
// output and whether the timeout hit. On timeout the partial output is
// returned untrimmed; the reading goroutine unblocks when the caller closes
// the command's session.
func drainStdout(ctx context.Context, r io.Reader, timeout time.Duration) (string, bool, error) {
	var mu sync.Mutex
	var buf strings.Builder
	done := make(chan error, 1)
	go func() {
		b := make([]byte, 4096)
		for {
			n, err := r.Read(b)
			if n > 0 {
				mu.Lock()
				buf.Write(b[:n])
				mu.Unlock()
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
		}
	}()

	collected := func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return "", false, err
		}
		return strings.TrimRight(collected(), "\r\n"), false, nil
	case <-t.C:
		return collected(), true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// waitWithGrace asks for the exit status of a command whose stream already
// timed out. If the process still hasn't returned after the grace period the
// status is reported as unknown.
func waitWithGrace(cmd sshpool.Command, grace time.Duration) *int {
	type result struct {
		exit *int
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		exit, err := cmd.Wait()
		ch <- result{exit, err}
	}()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil
		}
		return r.exit
	case <-t.C:
		return nil
	}
}
