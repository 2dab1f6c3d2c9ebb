package sshchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// testSigner generates a fresh ed25519 signer for server host keys and
// client auth in tests.
func testSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("ssh.NewSignerFromKey: %v", err)
	}
	return signer
}

// testPassword is accepted for every user by the in-process server.
const testPassword = "secret"

// execSpec scripts the result of one command on the test server.
type execSpec struct {
	stdout string
	stderr string
	exit   uint32
}

// testServer is an in-process SSH server that accepts password and public
// key auth and supports direct-tcpip (so chains can hop through it),
// scripted exec, shell sessions, and the sftp subsystem backed by the host
// filesystem.
type testServer struct {
	t    *testing.T
	ln   net.Listener
	addr string
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	commands map[string]execSpec
	shell    func(ch ssh.Channel)
	conns    map[string][]*ssh.ServerConn
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	hostSigner := testSigner(t)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) != testPassword {
				return nil, fmt.Errorf("wrong password for %q", meta.User())
			}
			return &ssh.Permissions{}, nil
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, _ ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ssh listen: %v", err)
	}

	s := &testServer{
		t:        t,
		ln:       ln,
		addr:     ln.Addr().String(),
		done:     make(chan struct{}),
		commands: make(map[string]execSpec),
		conns:    make(map[string][]*ssh.ServerConn),
	}
	t.Cleanup(s.Close)

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(nc, cfg)
		}
	}()

	return s
}

func (s *testServer) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ln.Close()
	})
}

// setCommand scripts the output of a command for subsequent exec requests.
func (s *testServer) setCommand(cmd, stdout, stderr string, exit uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd] = execSpec{stdout: stdout, stderr: stderr, exit: exit}
}

// setShell installs a handler for shell sessions. The channel is closed when
// the handler returns.
func (s *testServer) setShell(handler func(ch ssh.Channel)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shell = handler
}

// closeUser severs every live connection authenticated as user, simulating
// an abrupt connection loss for that hop.
func (s *testServer) closeUser(user string) {
	s.mu.Lock()
	conns := s.conns[user]
	s.conns[user] = nil
	s.mu.Unlock()
	for _, sc := range conns {
		_ = sc.Close()
	}
}

func (s *testServer) handleConn(nc net.Conn, cfg *ssh.ServerConfig) {
	defer nc.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()

	s.mu.Lock()
	s.conns[sconn.User()] = append(s.conns[sconn.User()], sconn)
	s.mu.Unlock()

	// Reply to global requests (keepalive@openssh.com among them).
	go func() {
		for req := range reqs {
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		}
	}()

	for newCh := range chans {
		switch newCh.ChannelType() {
		case "direct-tcpip":
			go handleDirectTCPIP(newCh)
		case "session":
			go s.handleSession(newCh)
		default:
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
		}
	}
}

func (s *testServer) handleSession(newCh ssh.NewChannel) {
	ch, reqs, err := newCh.Accept()
	if err != nil {
		return
	}

	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.runExec(ch, payload.Command)
			return
		case "shell":
			_ = req.Reply(true, nil)
			s.mu.Lock()
			handler := s.shell
			s.mu.Unlock()
			if handler == nil {
				handler = func(ch ssh.Channel) { _, _ = io.Copy(ch, ch) }
			}
			go func() {
				handler(ch)
				_ = ch.Close()
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					_ = ch.Close()
					return
				}
				_ = server.Serve()
				_ = ch.Close()
			}()
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// runExec answers an exec request from the scripted command table. Unknown
// commands fail the way a shell would.
func (s *testServer) runExec(ch ssh.Channel, command string) {
	s.mu.Lock()
	spec, ok := s.commands[command]
	s.mu.Unlock()
	if !ok {
		if rest, found := strings.CutPrefix(command, "echo "); found {
			spec = execSpec{stdout: rest + "\n"}
		} else {
			spec = execSpec{stderr: fmt.Sprintf("%s: command not found\n", command), exit: 127}
		}
	}

	if spec.stdout != "" {
		_, _ = io.WriteString(ch, spec.stdout)
	}
	if spec.stderr != "" {
		_, _ = io.WriteString(ch.Stderr(), spec.stderr)
	}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{spec.exit}))
	_ = ch.Close()
}

type directTCPIPReq struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

func handleDirectTCPIP(newCh ssh.NewChannel) {
	var req directTCPIPReq
	if err := ssh.Unmarshal(newCh.ExtraData(), &req); err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}
	target := fmt.Sprintf("%v:%d", req.DestAddr, req.DestPort)
	backend, err := net.DialTimeout("tcp", target, 3*time.Second)
	if err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, "dial backend failed")
		return
	}
	ch, reqs, err := newCh.Accept()
	if err != nil {
		_ = backend.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		_, _ = io.Copy(ch, backend)
		_ = ch.CloseWrite()
		wg.Done()
	}()
	go func() {
		_, _ = io.Copy(backend, ch)
		_ = backend.(*net.TCPConn).CloseWrite()
		wg.Done()
	}()
	wg.Wait()
	_ = ch.Close()
	_ = backend.Close()
}

func startTCPEcho(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}(c)
		}
	}()
	return ln, ln.Addr().String()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
