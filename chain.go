package sshchain

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"
)

// Chain orchestrates a sequence of SSH connections through intermediate
// hosts. Hop 0 is dialed directly; every later hop is dialed through the
// previous hop's session, so commands can be executed and files transferred
// on hosts only reachable from inside the chain.
//
// Sessions are index-aligned with the configured hops; a sessions slice
// shorter than the hop list means the chain is only partially connected and
// Connect resumes from the first missing hop. Named remotes live in a
// separate namespace from hop names and never participate in the positional
// forwarding order.
type Chain struct {
	cfg Config
	log Logger

	// connectMu serializes Connect, Disconnect and AddRemote so a reconnect
	// cannot interleave with a chain build already in progress.
	connectMu sync.Mutex

	mu       sync.Mutex
	sessions []*Session
	remotes  map[string]*Session
	storage  map[storageKey]*Storage
	conns    []*trackedConn

	reconnecting atomic.Bool
	pending      atomic.Bool
	detached     atomic.Bool
}

// New creates a chain from configuration options. No network activity
// happens until Connect is called.
func New(opts ...Option) (*Chain, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a chain from an assembled Config, for callers that
// build the configuration elsewhere (e.g. PairConfig.Chain or a config file).
func NewWithConfig(cfg Config) (*Chain, error) {
	if cfg.Logger == nil {
		cfg.Logger = defaultConfig().Logger
	}
	seen := make(map[string]bool, len(cfg.Hops))
	for _, h := range cfg.Hops {
		if h.Name == "" {
			return nil, fmt.Errorf("%w: hop %q has no name", ErrInvalidFormat, h.Host)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("%w: duplicate hop name %q", ErrInvalidFormat, h.Name)
		}
		seen[h.Name] = true
	}
	return &Chain{
		cfg:     cfg,
		log:     cfg.Logger,
		remotes: make(map[string]*Session),
		storage: make(map[storageKey]*Storage),
	}, nil
}

// Connect establishes the chain hop by hop, in strict order. Hops already
// connected are kept, so after a partial failure (or a disconnection event)
// Connect resumes from the first missing hop. A failed hop leaves the
// already-connected prefix in place; call Disconnect for a full teardown.
func (c *Chain) Connect() error {
	c.detached.Store(false)
	return c.connect()
}

// connect builds the chain without touching the detached flag. Once it holds
// the connect lock it aborts if the chain was deliberately torn down in the
// meantime, so a reconnect scheduled before a Disconnect can never rebuild
// the chain behind it. Only a caller-initiated Connect clears the flag.
func (c *Chain) connect() error {
	if len(c.cfg.Hops) == 0 {
		return ErrNoHops
	}
	if c.cfg.OnBeforeConnect != nil {
		if err := c.cfg.OnBeforeConnect(); err != nil {
			return fmt.Errorf("before-connect hook: %w", err)
		}
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.detached.Load() {
		return nil
	}

	for {
		c.mu.Lock()
		i := len(c.sessions)
		if i >= len(c.cfg.Hops) {
			c.mu.Unlock()
			return nil
		}
		var parent *Session
		if i > 0 {
			parent = c.sessions[i-1]
		}
		c.mu.Unlock()

		hop := c.cfg.Hops[i]
		ep := resolveEndpoint(hop, c.cfg.Defaults)
		sess, err := c.dial(ep, parent)
		if err != nil {
			return err
		}

		c.mu.Lock()
		// A disconnection may have truncated the chain while we were
		// dialing; a session built on a dropped parent is unusable.
		if len(c.sessions) != i || (i > 0 && c.sessions[i-1] != parent) {
			c.mu.Unlock()
			_ = sess.Close()
			return fmt.Errorf("%w to [%s]: chain changed during connect", ErrCreatingConnection, ep)
		}
		c.sessions = append(c.sessions, sess)
		c.mu.Unlock()
		c.log.Success(fmt.Sprintf("hop %d connected: %s", i, ep))

		if c.cfg.OnHopConnected != nil {
			if err := c.cfg.OnHopConnected(i, hop); err != nil {
				return fmt.Errorf("hop-connected hook for %q: %w", hop.Name, err)
			}
		}
	}
}

// dial opens a session toward ep, directly when parent is nil and through
// the parent's session otherwise.
func (c *Chain) dial(ep Endpoint, parent *Session) (*Session, error) {
	clientCfg, err := c.clientConfig(ep)
	if err != nil {
		return nil, fmt.Errorf("%w to [%s]: %v", ErrCreatingConnection, ep, err)
	}

	var client *ssh.Client
	if parent == nil {
		c.log.Task(fmt.Sprintf("connecting to %s", ep))
		client, err = ssh.Dial("tcp", ep.Addr(), clientCfg)
		if err != nil {
			return nil, fmt.Errorf("%w to [%s]: %v", ErrCreatingConnection, ep, err)
		}
	} else {
		c.log.Task(fmt.Sprintf("connecting to %s via %s", ep, parent.Name()))
		conn, err := parent.Forward(ep.Addr())
		if err != nil {
			return nil, fmt.Errorf("%w to [%s] via %s: %v", ErrCreatingConnection, ep, parent.Name(), err)
		}
		ncc, chans, reqs, err := ssh.NewClientConn(conn, ep.Addr(), clientCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w to [%s] via %s: %v", ErrCreatingConnection, ep, parent.Name(), err)
		}
		client = ssh.NewClient(ncc, chans, reqs)
	}

	return newSession(ep.Name, client, c.cfg.KeepAlive, c.log, c.sessionDown), nil
}

// clientConfig assembles the transport configuration for one resolved
// endpoint. Credentials are re-resolved on every attempt, never cached.
func (c *Chain) clientConfig(ep Endpoint) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if ep.PrivateKey != nil {
		signer, err := ssh.ParsePrivateKey(ep.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse key for %s: %w", ep.Name, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if ep.Password != "" {
		auth = append(auth, ssh.Password(ep.Password))
	}
	if c.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("open ssh-agent socket: %w", err)
			}
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	hostKeyCB := c.cfg.HostKeyCB
	if hostKeyCB == nil && c.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %q: %w", c.cfg.KnownHostsPath, err)
		}
		hostKeyCB = cb
	}
	if hostKeyCB == nil {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         ep.ReadyTimeout,
	}, nil
}

// sessionDown handles loss of a live session. For a named remote the entry
// is dropped. For a positional hop the chain is truncated at that position:
// every session forwarded through the lost one is unreachable and gets
// closed, the capability cache is cleared wholesale, and a reconnect is
// scheduled.
func (c *Chain) sessionDown(s *Session, cause error) {
	c.mu.Lock()
	for name, rs := range c.remotes {
		if rs == s {
			delete(c.remotes, name)
			delete(c.storage, storageKey{kind: remoteEndpoint, name: name})
			c.mu.Unlock()
			c.log.Warning(fmt.Sprintf("remote %q disconnected: %v", name, cause))
			return
		}
	}
	idx := -1
	for i, cs := range c.sessions {
		if cs == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	dropped := c.sessions[idx:]
	c.sessions = c.sessions[:idx]
	c.storage = make(map[storageKey]*Storage)
	c.mu.Unlock()

	c.log.Warning(fmt.Sprintf("hop %q disconnected: %v", s.Name(), cause))
	for _, d := range dropped {
		_ = d.Close()
	}
	c.scheduleReconnect()
}

// scheduleReconnect starts a background reconnect unless one is already
// running, in which case the running one picks the request up after its
// current attempt. Recovery is fire and forget: failures are logged, never
// surfaced to callers.
func (c *Chain) scheduleReconnect() {
	c.pending.Store(true)
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		for c.pending.Swap(false) {
			if c.detached.Load() {
				return
			}
			c.log.Task("reconnecting chain")
			if err := c.connect(); err != nil {
				c.log.Error(fmt.Sprintf("reconnect failed: %v", err))
			}
		}
	}()
}

// Disconnect tears the whole chain down: named remotes first (best effort,
// in no particular order), then the positional sessions in strict reverse
// order, mirroring the forwarding chain. State is cleared unconditionally,
// regardless of close errors.
func (c *Chain) Disconnect() error {
	if c.cfg.OnBeforeDisconnect != nil {
		if err := c.cfg.OnBeforeDisconnect(); err != nil {
			c.log.Warning(fmt.Sprintf("before-disconnect hook: %v", err))
		}
	}
	c.detached.Store(true)

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	remotes := c.remotes
	c.remotes = make(map[string]*Session)
	sessions := c.sessions
	c.sessions = nil
	c.storage = make(map[storageKey]*Storage)
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, rs := range remotes {
		g.Go(rs.Close)
	}
	_ = g.Wait()

	for _, tc := range conns {
		_ = tc.Close()
	}

	var errs error
	for i := len(sessions) - 1; i >= 0; i-- {
		if err := sessions[i].Close(); err != nil {
			errs = errors.Join(errs,
				fmt.Errorf("%w %d [%s]: %v", ErrClosingHop, i, sessions[i].Name(), err))
		}
	}
	return errs
}

// IsConnected reports whether at least one hop is connected.
func (c *Chain) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions) > 0
}

// IsFullyConnected reports whether every configured hop has a live session.
func (c *Chain) IsFullyConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cfg.Hops) > 0 && len(c.sessions) == len(c.cfg.Hops)
}

// hopIndex returns the position of the named hop, or -1.
func (c *Chain) hopIndex(name string) int {
	for i, h := range c.cfg.Hops {
		if h.Name == name {
			return i
		}
	}
	return -1
}

// hopSession resolves a hop name to its live session.
func (c *Chain) hopSession(name string) (*Session, error) {
	idx := c.hopIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx >= len(c.sessions) {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotConnected, name)
	}
	return c.sessions[idx], nil
}

// remoteSession resolves a named remote to its live session. Remote names
// are a separate namespace from hop names.
func (c *Chain) remoteSession(name string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.remotes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRemoteNotConnected, name)
	}
	return rs, nil
}

// lastHopName returns the name of the final hop, the chain end.
func (c *Chain) lastHopName() (string, error) {
	if len(c.cfg.Hops) == 0 {
		return "", ErrNoHops
	}
	return c.cfg.Hops[len(c.cfg.Hops)-1].Name, nil
}

// Exec runs a command on the hop with the given name and returns its
// accumulated stdout. When debug is set, any stderr output is echoed to the
// logger at info level; stderr by itself is never an error.
func (c *Chain) Exec(name, command string, debug bool) (string, error) {
	sess, err := c.hopSession(name)
	if err != nil {
		return "", err
	}
	return c.run(sess, command, debug)
}

// ExecJump runs a command on the first hop of the chain.
func (c *Chain) ExecJump(command string, debug bool) (string, error) {
	if len(c.cfg.Hops) == 0 {
		return "", ErrNoHops
	}
	return c.Exec(c.cfg.Hops[0].Name, command, debug)
}

// ExecRemote runs a command on the last hop of the chain.
func (c *Chain) ExecRemote(command string, debug bool) (string, error) {
	last, err := c.lastHopName()
	if err != nil {
		return "", err
	}
	return c.Exec(last, command, debug)
}

// ExecOnRemote runs a command on a named remote added with AddRemote.
func (c *Chain) ExecOnRemote(name, command string, debug bool) (string, error) {
	sess, err := c.remoteSession(name)
	if err != nil {
		return "", err
	}
	return c.run(sess, command, debug)
}

func (c *Chain) run(sess *Session, command string, debug bool) (string, error) {
	stdout, stderr, err := sess.Exec(command)
	if err != nil {
		return "", err
	}
	if debug && len(stderr) > 0 {
		c.log.Info(fmt.Sprintf("%s stderr: %s", sess.Name(), stderr))
	}
	return string(stdout), nil
}

// AddRemote connects an auxiliary endpoint reachable from one of the hops
// and registers it under the given name, in a namespace separate from hop
// names. The connection is forwarded through the named source hop, or
// through the last hop when none is given. An existing remote of the same
// name is replaced and closed.
func (c *Chain) AddRemote(name string, hop Hop, via ...string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	var source string
	if len(via) > 0 {
		source = via[0]
	} else {
		last, err := c.lastHopName()
		if err != nil {
			return err
		}
		source = last
	}

	idx := c.hopIndex(source)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrSourceHopNotFound, source)
	}
	c.mu.Lock()
	if idx >= len(c.sessions) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSourceHopNotConnected, source)
	}
	parent := c.sessions[idx]
	c.mu.Unlock()

	ep := resolveEndpoint(hop, c.cfg.Defaults)
	ep.Name = name
	sess, err := c.dial(ep, parent)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.remotes[name]
	c.remotes[name] = sess
	delete(c.storage, storageKey{kind: remoteEndpoint, name: name})
	c.mu.Unlock()

	if old != nil {
		c.log.Warning(fmt.Sprintf("remote %q replaced an existing session", name))
		_ = old.Close()
	}
	c.log.Success(fmt.Sprintf("remote connected: %s via %s", ep, source))
	return nil
}

// OpenShell opens an interactive shell on the named hop, or on the last hop
// when no name is given.
func (c *Chain) OpenShell(name ...string) (*Shell, error) {
	target := ""
	if len(name) > 0 {
		target = name[0]
	} else {
		last, err := c.lastHopName()
		if err != nil {
			return nil, err
		}
		target = last
	}
	sess, err := c.hopSession(target)
	if err != nil {
		return nil, err
	}
	return sess.Shell()
}

// InteractiveShell runs a PTY shell on the named hop (or the last hop when
// name is empty) wired to the given streams, blocking until it exits.
func (c *Chain) InteractiveShell(name string, in io.Reader, out, errOut io.Writer, termType string, height, width int) error {
	if name == "" {
		last, err := c.lastHopName()
		if err != nil {
			return err
		}
		name = last
	}
	sess, err := c.hopSession(name)
	if err != nil {
		return err
	}
	return sess.InteractiveShell(in, out, errOut, termType, height, width)
}

// Dial opens a connection from the chain end toward addr. With connection
// tracking enabled (the default) the connection is closed on Disconnect if
// still open.
func (c *Chain) Dial(network, addr string) (net.Conn, error) {
	last, err := c.lastHopName()
	if err != nil {
		return nil, err
	}
	sess, err := c.hopSession(last)
	if err != nil {
		return nil, err
	}
	conn, err := sess.client.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	if !c.cfg.TrackConns {
		return conn, nil
	}
	return c.track(conn), nil
}

// Listen opens a listener on the chain end.
func (c *Chain) Listen(network, addr string) (net.Listener, error) {
	last, err := c.lastHopName()
	if err != nil {
		return nil, err
	}
	sess, err := c.hopSession(last)
	if err != nil {
		return nil, err
	}
	return sess.client.Listen(network, addr)
}
