package sshpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/treykane/fleetcmd/internal/util"
)

// Liveness probe sentinels. Running a trivial echo is the only reliable way
// to distinguish a healthy cached transport from one the far side has
// silently dropped.
const (
	probeCommand      = "echo connection_test"
	jumpProbeCommand  = "echo jump_connection_test"
	healthCommand     = "echo health_check"
	jumpHealthCommand = "echo jump_health_check"
)

// Config tunes pool timeouts and maintenance cadence.
type Config struct {
	ConnectTimeout     time.Duration
	LoginTimeout       time.Duration
	KeepaliveInterval  time.Duration
	ProbeTimeout       time.Duration // acquire-path probe, target pool
	JumpProbeTimeout   time.Duration // acquire-path probe, jump pool
	HealthProbeTimeout time.Duration // reaper probe
	ReapInterval       time.Duration
	IdleAfter          time.Duration // evict entries unused this long
	HealthAfter        time.Duration // probe entries unused this long
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     30 * time.Second,
		LoginTimeout:       30 * time.Second,
		KeepaliveInterval:  60 * time.Second,
		ProbeTimeout:       20 * time.Second,
		JumpProbeTimeout:   10 * time.Second,
		HealthProbeTimeout: 5 * time.Second,
		ReapInterval:       5 * time.Minute,
		IdleAfter:          5 * time.Minute,
		HealthAfter:        30 * time.Minute,
	}
}

// entry is one pooled connection. refs counts outstanding leases plus any
// in-flight reaper probe; evicted entries are closed when refs reaches zero.
type entry struct {
	key      string
	conn     Conn
	lastUsed time.Time
	refs     int
	evicted  bool
}

// Pool caches SSH connections keyed by target identity. Target and jump
// connections live in separate maps because they have different probe
// commands and the jump map is consulted while building tunneled entries for
// the target map.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*entry // direct and via-jump targets
	jumps map[string]*entry

	cfg    Config
	dialer Dialer
	now    func() time.Time
}

// New creates a pool with the given configuration.
func New(cfg Config) *Pool {
	return &Pool{
		conns: make(map[string]*entry),
		jumps: make(map[string]*entry),
		cfg:   cfg,
		dialer: netDialer{
			connectTimeout: cfg.ConnectTimeout,
			loginTimeout:   cfg.LoginTimeout,
			keepalive:      cfg.KeepaliveInterval,
		},
		now: time.Now,
	}
}

// Lease is a borrowed reference to a pooled connection. The borrower must
// call Release when done and must never close Conn directly.
type Lease struct {
	Conn Conn
	Key  string

	pool *Pool
	ent  *entry
}

// Release returns the lease. Safe on a nil lease and safe to call once per
// lease only.
func (l *Lease) Release() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.release(l.ent)
}

// DirectKey identifies a direct connection: "host:port:user".
func DirectKey(host string, port int, user string) string {
	return fmt.Sprintf("%s:%d:%s", util.NormalizeHost(host), port, user)
}

// ViaJumpKey identifies a tunneled connection: "via_jump/host:port:user".
func ViaJumpKey(host string, port int, user string) string {
	return "via_jump/" + fmt.Sprintf("%s:%d:%s", util.NormalizeHost(host), port, user)
}

// JumpKey identifies a jump host connection: "jump/host:port:user".
func JumpKey(host string, port int, user string) string {
	return "jump/" + fmt.Sprintf("%s:%d:%s", util.NormalizeHost(host), port, user)
}

// AcquireDirect returns a lease on a connection straight to the target,
// reusing a cached one if it passes a liveness probe.
func (p *Pool) AcquireDirect(ctx context.Context, host, user, password string, port int) (*Lease, error) {
	key := DirectKey(host, port, user)
	return p.acquire(ctx, p.conns, key, probeCommand, p.cfg.ProbeTimeout, func(ctx context.Context) (Conn, error) {
		return p.dialer.Direct(ctx, util.NormalizeHost(host), user, password, port)
	})
}

// AcquireJump returns a lease on a connection to a bastion host. Jump
// connections are key-authenticated only.
func (p *Pool) AcquireJump(ctx context.Context, host, user string, port int) (*Lease, error) {
	key := JumpKey(host, port, user)
	return p.acquire(ctx, p.jumps, key, jumpProbeCommand, p.cfg.JumpProbeTimeout, func(ctx context.Context) (Conn, error) {
		return p.dialer.Jump(ctx, util.NormalizeHost(host), user, port)
	})
}

// AcquireViaJump returns a lease on a connection to the target tunneled
// through the given jump lease.
func (p *Pool) AcquireViaJump(ctx context.Context, host, user, password string, port int, jump *Lease) (*Lease, error) {
	key := ViaJumpKey(host, port, user)
	return p.acquire(ctx, p.conns, key, probeCommand, p.cfg.ProbeTimeout, func(ctx context.Context) (Conn, error) {
		return p.dialer.ViaJump(ctx, util.NormalizeHost(host), user, password, port, jump.Conn)
	})
}

func (p *Pool) acquire(ctx context.Context, m map[string]*entry, key, probeCmd string, probeTimeout time.Duration, dial func(context.Context) (Conn, error)) (*Lease, error) {
	p.mu.Lock()
	if e, ok := m[key]; ok {
		e.refs++
		p.mu.Unlock()
		if err := runProbe(ctx, e.conn, probeCmd, probeTimeout); err == nil {
			p.mu.Lock()
			e.lastUsed = p.now()
			p.mu.Unlock()
			slog.Debug("reusing pooled ssh connection", "key", key)
			return &Lease{Conn: e.conn, Key: key, pool: p, ent: e}, nil
		} else {
			slog.Warn("cached ssh connection failed liveness probe, replacing", "key", key, "error", err)
			p.mu.Lock()
			p.evictEntry(m, e)
			e.refs-- // drop the borrow taken above
			shouldClose := e.evicted && e.refs == 0
			p.mu.Unlock()
			if shouldClose {
				_ = e.conn.Close()
			}
		}
	} else {
		p.mu.Unlock()
	}

	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if e, ok := m[key]; ok {
		// Lost a dial race; keep the winner's connection.
		e.refs++
		e.lastUsed = p.now()
		p.mu.Unlock()
		_ = conn.Close()
		return &Lease{Conn: e.conn, Key: key, pool: p, ent: e}, nil
	}
	e := &entry{key: key, conn: conn, lastUsed: p.now(), refs: 1}
	m[key] = e
	p.mu.Unlock()
	slog.Info("created new ssh connection", "key", key)
	return &Lease{Conn: conn, Key: key, pool: p, ent: e}, nil
}

// Evict removes the keyed entry from whichever map holds it. The connection
// is closed immediately if no leases are outstanding, otherwise when the last
// lease is released.
func (p *Pool) Evict(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.conns[key]; ok {
		p.evictEntry(p.conns, e)
	}
	if e, ok := p.jumps[key]; ok {
		p.evictEntry(p.jumps, e)
	}
}

// evictEntry marks e dead and removes it from m so no new borrows can see
// it. The connection closes immediately only when no leases are outstanding;
// otherwise the final release closes it. Caller must hold p.mu.
func (p *Pool) evictEntry(m map[string]*entry, e *entry) {
	if m[e.key] == e {
		delete(m, e.key)
	}
	if !e.evicted {
		e.evicted = true
		if e.refs == 0 {
			go e.conn.Close()
		}
	}
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.refs--
	shouldClose := e.evicted && e.refs == 0
	p.mu.Unlock()
	if shouldClose {
		_ = e.conn.Close()
	}
}

// Size reports the number of cached target connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// runProbe executes a no-op command on conn with a bounded wait.
func runProbe(ctx context.Context, conn Conn, command string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd, err := conn.Start(ctx, command)
	if err != nil {
		return err
	}
	defer cmd.Close()
	done := make(chan error, 1)
	go func() {
		_, err := cmd.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
