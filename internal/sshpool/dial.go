package sshpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Dialer abstracts connection establishment so pool behavior can be tested
// without a network.
type Dialer interface {
	// Direct opens a password-authenticated session straight to the target.
	Direct(ctx context.Context, host, user, password string, port int) (Conn, error)

	// Jump opens a key-authenticated session to a bastion. Jump hosts never
	// use password auth; the local user's key material must be authorized.
	Jump(ctx context.Context, host, user string, port int) (Conn, error)

	// ViaJump opens a password-authenticated session to the target, using an
	// established jump connection as the transport.
	ViaJump(ctx context.Context, host, user, password string, port int, jump Conn) (Conn, error)
}

// candidate private key files for jump host auth, in preference order.
var keyFileNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// netDialer is the production Dialer over the real network.
type netDialer struct {
	connectTimeout time.Duration
	loginTimeout   time.Duration
	keepalive      time.Duration
}

func (d netDialer) Direct(ctx context.Context, host, user, password string, port int) (Conn, error) {
	cfg := d.clientConfig(user, []ssh.AuthMethod{ssh.Password(password)})
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := (&net.Dialer{Timeout: d.connectTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return d.handshake(nc, addr, cfg)
}

func (d netDialer) Jump(ctx context.Context, host, user string, port int) (Conn, error) {
	auth, err := localKeyAuth()
	if err != nil {
		return nil, fmt.Errorf("jump server authentication failed, ensure SSH key authentication is configured: %w", err)
	}
	cfg := d.clientConfig(user, auth)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := (&net.Dialer{Timeout: d.connectTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect jump server %s: %w", addr, err)
	}
	conn, err := d.handshake(nc, addr, cfg)
	if err != nil && IsAuthError(err) {
		return nil, fmt.Errorf("jump server authentication failed, ensure SSH key authentication is configured: %w", err)
	}
	return conn, err
}

func (d netDialer) ViaJump(ctx context.Context, host, user, password string, port int, jump Conn) (Conn, error) {
	cfg := d.clientConfig(user, []ssh.AuthMethod{ssh.Password(password)})
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := jump.Tunnel("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("open tunnel to %s via jump server: %w", addr, err)
	}
	return d.handshake(nc, addr, cfg)
}

// handshake upgrades an established TCP connection to an SSH client. The
// login timeout is enforced as a deadline on the raw connection for the
// duration of the handshake only.
func (d netDialer) handshake(nc net.Conn, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	if d.loginTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(d.loginTimeout))
	}
	cc, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = nc.SetDeadline(time.Time{})
	return newSSHConn(ssh.NewClient(cc, chans, reqs), d.keepalive), nil
}

func (d netDialer) clientConfig(user string, auth []ssh.AuthMethod) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Targets are ad-hoc LAN hosts submitted per request; there is no
		// known_hosts database to verify against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout,
	}
}

// localKeyAuth loads the user's default private keys (~/.ssh/id_ed25519,
// id_rsa, id_ecdsa) for jump host authentication.
func localKeyAuth() ([]ssh.AuthMethod, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	var signers []ssh.Signer
	for _, name := range keyFileNames {
		b, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, errors.New("no usable private keys in ~/.ssh")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// IsAuthError reports whether err is an authentication rejection rather than
// a reachability or transport problem. Auth failures are not worth retrying
// with the same credentials.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied")
}

// IsDisconnect reports whether err indicates the underlying SSH transport is
// gone (as opposed to a command failing or timing out). Callers react by
// evicting the pool entry and re-acquiring.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"use of closed network connection",
		"connection lost",
		"connection reset",
		"broken pipe",
		"ssh: disconnect",
		"rejected: connect failed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
