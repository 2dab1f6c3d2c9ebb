package sshchain

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
)

type storageKind int

const (
	hopEndpoint storageKind = iota
	remoteEndpoint
)

// storageKey keys the capability cache. Hop and remote namespaces are
// tagged separately so a hop and a remote sharing a name never collide.
type storageKey struct {
	kind storageKind
	name string
}

// Storage is the file-transfer capability bound to one live session.
// Instances are built lazily through Chain.Storage and cached per endpoint;
// the cache entry disappears whenever that endpoint's session is torn down,
// so callers should re-fetch rather than hold one across reconnects.
type Storage struct {
	name string
	sftp *sftp.Client
}

func newStorage(sess *Session) (*Storage, error) {
	client, err := sftp.NewClient(sess.client)
	if err != nil {
		return nil, fmt.Errorf("%w: sftp on %s: %v", ErrCreatingConnection, sess.name, err)
	}
	return &Storage{name: sess.name, sftp: client}, nil
}

// Storage returns the file-transfer capability for the named endpoint, or
// for the last hop when no name is given. Hop names are tried first, then
// named remotes. The returned object is cached and reused until the
// endpoint's session goes away.
func (c *Chain) Storage(name ...string) (*Storage, error) {
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

	c.mu.Lock()
	key, sess, err := c.storageTarget(target)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if st, ok := c.storage[key]; ok {
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	st, err := newStorage(sess)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.storage[key]; ok {
		c.mu.Unlock()
		_ = st.Close()
		return existing, nil
	}
	// The endpoint may have gone down while the sftp handshake ran; a
	// capability bound to a dead session must not enter the cache.
	if _, cur, err2 := c.storageTarget(target); err2 != nil || cur != sess {
		c.mu.Unlock()
		_ = st.Close()
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotConnected, target)
	}
	c.storage[key] = st
	c.mu.Unlock()
	return st, nil
}

// storageTarget resolves an endpoint name against hop positions first,
// falling back to the named-remote map. Callers must hold c.mu.
func (c *Chain) storageTarget(name string) (storageKey, *Session, error) {
	if idx := c.hopIndex(name); idx >= 0 {
		key := storageKey{kind: hopEndpoint, name: name}
		if idx >= len(c.sessions) {
			return key, nil, fmt.Errorf("%w: %q", ErrEndpointNotConnected, name)
		}
		return key, c.sessions[idx], nil
	}
	if rs, ok := c.remotes[name]; ok {
		return storageKey{kind: remoteEndpoint, name: name}, rs, nil
	}
	return storageKey{}, nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, name)
}

// Upload copies a local file to the endpoint.
func (st *Storage) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	dst, err := st.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy to %s: %w", st.name, err)
	}
	return dst.Sync()
}

// Download copies a file from the endpoint to the local filesystem.
func (st *Storage) Download(remotePath, localPath string) error {
	src, err := st.sftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy from %s: %w", st.name, err)
	}
	return dst.Sync()
}

// Exists reports whether a path exists on the endpoint.
func (st *Storage) Exists(path string) (bool, error) {
	_, err := st.sftp.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, sftp.ErrSSHFxNoSuchFile) {
		return false, nil
	}
	return false, fmt.Errorf("stat %q on %s: %w", path, st.name, err)
}

// Mkdir creates a single directory on the endpoint.
func (st *Storage) Mkdir(path string) error {
	return st.sftp.Mkdir(path)
}

// EnsureDir creates a directory on the endpoint along with any missing
// parents.
func (st *Storage) EnsureDir(path string) error {
	return st.sftp.MkdirAll(path)
}

// Append appends bytes to a file on the endpoint, creating it if missing.
func (st *Storage) Append(path string, data []byte) error {
	f, err := st.sftp.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
	if err != nil {
		return fmt.Errorf("open %q for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append to %q: %w", path, err)
	}
	return nil
}

// AppendText appends text to a file on the endpoint.
func (st *Storage) AppendText(path, text string) error {
	return st.Append(path, []byte(text))
}

// List returns the entries of a directory on the endpoint.
func (st *Storage) List(path string) ([]os.FileInfo, error) {
	return st.sftp.ReadDir(path)
}

// Chmod changes the permissions of a path on the endpoint.
func (st *Storage) Chmod(path string, mode os.FileMode) error {
	return st.sftp.Chmod(path, mode)
}

// Close releases the underlying sftp client. The chain does this implicitly
// on Disconnect; explicit closes are only needed for storage objects kept
// past the chain's lifetime.
func (st *Storage) Close() error {
	return st.sftp.Close()
}
