package sshchain

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Shell is an interactive session on one hop. Output and error streams are
// kept distinct (no PTY is requested), which is what lets WaitForString
// treat error-stream data as a failure.
type Shell struct {
	sess  *ssh.Session
	stdin io.WriteCloser
	out   chan []byte
	errs  chan []byte
	done  chan struct{}

	closeOnce sync.Once
}

func newShell(s *Session) (*Shell, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: session on %s: %v", ErrCreatingConnection, s.name, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("shell stdin on %s: %w", s.name, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("shell stdout on %s: %w", s.name, err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("shell stderr on %s: %w", s.name, err)
	}
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("start shell on %s: %w", s.name, err)
	}

	sh := &Shell{
		sess:  sess,
		stdin: stdin,
		out:   make(chan []byte, 32),
		errs:  make(chan []byte, 32),
		done:  make(chan struct{}),
	}
	go sh.pump(stdout, sh.out)
	go sh.pump(stderr, sh.errs)
	go func() {
		_ = sess.Wait()
		close(sh.done)
	}()
	return sh, nil
}

// pump moves stream data into a channel in chunks. Each chunk is copied
// because the read buffer is reused.
func (sh *Shell) pump(r io.Reader, ch chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch <- chunk:
			case <-sh.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Send writes a line of input to the shell, appending a newline.
func (sh *Shell) Send(line string) error {
	_, err := io.WriteString(sh.stdin, line+"\n")
	return err
}

// WaitForString consumes shell output until the accumulated text contains
// expected as a substring, then returns the full accumulated text. Any data
// on the error stream fails the wait immediately with ErrStreamData carrying
// that data; the shell closing before the match fails with
// ErrUnexpectedClose. No timeout is enforced at this layer; callers who need
// one can Close the shell from another goroutine.
func (sh *Shell) WaitForString(expected string) (string, error) {
	var buf strings.Builder
	for {
		select {
		case chunk := <-sh.out:
			buf.Write(chunk)
			if strings.Contains(buf.String(), expected) {
				return buf.String(), nil
			}
		case chunk := <-sh.errs:
			return buf.String(), fmt.Errorf("%w: %s", ErrStreamData, chunk)
		case <-sh.done:
			// Drain output that arrived just before the close.
			for {
				select {
				case chunk := <-sh.out:
					buf.Write(chunk)
					if strings.Contains(buf.String(), expected) {
						return buf.String(), nil
					}
				default:
					return buf.String(), fmt.Errorf("%w: waiting for %q", ErrUnexpectedClose, expected)
				}
			}
		}
	}
}

// Close terminates the shell session.
func (sh *Shell) Close() error {
	var err error
	sh.closeOnce.Do(func() {
		_ = sh.stdin.Close()
		err = sh.sess.Close()
	})
	return err
}
