package sshchain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// SessionState is the lifecycle state of one chain session.
type SessionState int32

const (
	// StateReady means the session is live and usable.
	StateReady SessionState = iota
	// StateClosed means the session was deliberately closed.
	StateClosed
	// StateFailed means the underlying connection was lost.
	StateFailed
)

// Session wraps one live SSH connection in the chain. It exposes command
// execution, socket forwarding toward the next hop, and interactive shells.
// A monitor goroutine watches the underlying connection and reports loss
// through the down callback exactly once; keep-alive requests double as the
// disconnect detector. A deliberate Close never triggers the callback.
type Session struct {
	name      string
	client    *ssh.Client
	keepAlive time.Duration
	log       Logger
	onDown    func(s *Session, cause error)

	state     atomic.Int32
	stop      chan struct{}
	closeOnce sync.Once
	downOnce  sync.Once
}

func newSession(name string, client *ssh.Client, keepAlive time.Duration, logger Logger, onDown func(*Session, error)) *Session {
	s := &Session{
		name:      name,
		client:    client,
		keepAlive: keepAlive,
		log:       logger,
		onDown:    onDown,
		stop:      make(chan struct{}),
	}
	s.state.Store(int32(StateReady))
	go s.watch()
	if keepAlive > 0 {
		go s.keepAliveLoop()
	}
	return s
}

// Name returns the endpoint name this session belongs to.
func (s *Session) Name() string { return s.name }

// State returns the current session state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// watch blocks until the underlying connection terminates. If the
// termination was not a deliberate Close, the down callback fires.
func (s *Session) watch() {
	err := s.client.Wait()
	select {
	case <-s.stop:
		return
	default:
	}
	s.state.Store(int32(StateFailed))
	if err == nil {
		err = io.EOF
	}
	s.fireDown(err)
}

func (s *Session) fireDown(cause error) {
	s.downOnce.Do(func() {
		if s.onDown != nil {
			s.onDown(s, cause)
		}
	})
}

// keepAliveLoop sends periodic keep-alive requests. A failed request means
// the connection is gone; closing the client makes watch observe it.
func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.log.Warning(fmt.Sprintf("keep-alive to %s failed: %v", s.name, err))
				_ = s.client.Close()
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Exec runs a command on the session and returns the accumulated stdout and
// stderr separately. A nonzero exit status is not an error; only
// connection-level failures are reported.
func (s *Session) Exec(command string) (stdout, stderr []byte, err error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: session on %s: %v", ErrCreatingConnection, s.name, err)
	}
	defer sess.Close()

	var out, errOut bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &errOut

	if err := sess.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return out.Bytes(), errOut.Bytes(), fmt.Errorf("exec on %s: %w", s.name, err)
		}
	}
	return out.Bytes(), errOut.Bytes(), nil
}

// Forward opens a connection from this session's host toward addr, to be
// used either directly or as the transport for the next hop in the chain.
func (s *Session) Forward(addr string) (net.Conn, error) {
	return s.client.Dial("tcp", addr)
}

// Shell opens an interactive shell on the session with separate output and
// error streams. No PTY is requested so the two streams stay distinct.
func (s *Session) Shell() (*Shell, error) {
	return newShell(s)
}

// InteractiveShell runs a PTY shell wired to the given streams and blocks
// until the shell exits. Terminal dimensions come from the caller, which
// typically puts the local terminal into raw mode first.
func (s *Session) InteractiveShell(in io.Reader, out, errOut io.Writer, termType string, height, width int) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: session on %s: %v", ErrCreatingConnection, s.name, err)
	}
	defer sess.Close()

	sess.Stdin = in
	sess.Stdout = out
	sess.Stderr = errOut

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(termType, height, width, modes); err != nil {
		return fmt.Errorf("request pty on %s: %w", s.name, err)
	}
	if err := sess.Shell(); err != nil {
		return fmt.Errorf("start shell on %s: %w", s.name, err)
	}
	return sess.Wait()
}

// Close tears the session down. It suppresses the down callback so a
// deliberate close never triggers reconnection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.state.Store(int32(StateClosed))
		err = s.client.Close()
	})
	return err
}
