// Package sshpool maintains a keyed cache of live SSH sessions.
//
// Sessions are expensive to establish (TCP + handshake + auth, possibly twice
// when a jump host is involved), and a batch frequently targets the same host
// from several rows. The pool hands out reference-counted leases on shared
// connections: borrowers never close a connection, they release their lease.
// Only the reaper and the acquire path (on a failed liveness probe) evict,
// and an evicted connection is physically closed once its last lease returns.
package sshpool

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Conn is one live SSH transport owned by the pool.
type Conn interface {
	// Start launches a command on the remote host. Cancelling ctx abandons
	// the launch; the session is torn down in the background.
	Start(ctx context.Context, command string) (Command, error)

	// Tunnel opens a TCP connection from the remote side, used to reach a
	// target host through a jump host.
	Tunnel(network, addr string) (net.Conn, error)

	Close() error
}

// Command is one in-flight remote command.
type Command interface {
	// Stdout is the command's standard output stream.
	Stdout() io.Reader

	// Wait blocks until the command finishes and returns its exit status.
	// A nil status means the remote side terminated without reporting one.
	Wait() (*int, error)

	// Close tears down the underlying session. Safe after Wait.
	Close() error
}

// sshConn adapts *ssh.Client to Conn and keeps the transport alive with
// periodic keepalive requests.
type sshConn struct {
	client    *ssh.Client
	done      chan struct{}
	closeOnce sync.Once
}

func newSSHConn(client *ssh.Client, keepalive time.Duration) *sshConn {
	c := &sshConn{client: client, done: make(chan struct{})}
	if keepalive > 0 {
		go c.keepaliveLoop(keepalive)
	}
	return c
}

// keepaliveLoop sends openssh keepalive requests until the connection is
// closed. A failed request means the transport is gone; the next liveness
// probe will evict the entry, so the loop just stops.
func (c *sshConn) keepaliveLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

func (c *sshConn) Start(ctx context.Context, command string) (Command, error) {
	type result struct {
		cmd *sshCommand
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := c.client.NewSession()
		if err != nil {
			ch <- result{err: err}
			return
		}
		stdout, err := sess.StdoutPipe()
		if err != nil {
			sess.Close()
			ch <- result{err: err}
			return
		}
		if err := sess.Start(command); err != nil {
			sess.Close()
			ch <- result{err: err}
			return
		}
		ch <- result{cmd: &sshCommand{sess: sess, stdout: stdout}}
	}()

	select {
	case r := <-ch:
		return r.cmd, r.err
	case <-ctx.Done():
		// The launch goroutine may still be blocked in NewSession or Start;
		// reap whatever it produces so the session doesn't leak.
		go func() {
			if r := <-ch; r.cmd != nil {
				_ = r.cmd.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (c *sshConn) Tunnel(network, addr string) (net.Conn, error) {
	return c.client.Dial(network, addr)
}

func (c *sshConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.client.Close()
	})
	return err
}

// sshCommand adapts *ssh.Session to Command.
type sshCommand struct {
	sess   *ssh.Session
	stdout io.Reader
}

func (c *sshCommand) Stdout() io.Reader { return c.stdout }

// Wait normalizes the session's exit condition: a clean exit and a nonzero
// exit are both successful executions with a status; a missing status yields
// nil; anything else is a transport-level error.
func (c *sshCommand) Wait() (*int, error) {
	err := c.sess.Wait()
	switch e := err.(type) {
	case nil:
		zero := 0
		return &zero, nil
	case *ssh.ExitError:
		code := e.ExitStatus()
		return &code, nil
	case *ssh.ExitMissingError:
		return nil, nil
	default:
		return nil, err
	}
}

func (c *sshCommand) Close() error { return c.sess.Close() }
