package sshchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The sftp subsystem of the test server operates on the test process's own
// filesystem, so absolute paths under t.TempDir() stand in for remote paths.

func TestStorageUploadDownload(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A")
	require.NoError(t, c.Connect())

	st, err := c.Storage()
	require.NoError(t, err)

	dir := t.TempDir()
	local := filepath.Join(dir, "local.txt")
	remote := filepath.Join(dir, "remote.txt")
	back := filepath.Join(dir, "back.txt")
	require.NoError(t, os.WriteFile(local, []byte("payload\n"), 0644))

	require.NoError(t, st.Upload(local, remote))

	ok, err := st.Exists(remote)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, st.Download(remote, back))
	data, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(data))
}

func TestStorageDirsAndAppend(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A")
	require.NoError(t, c.Connect())

	st, err := c.Storage("A")
	require.NoError(t, err)

	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, st.EnsureDir(nested))

	ok, err := st.Exists(nested)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok, "a missing path is not an error")

	logPath := filepath.Join(nested, "app.log")
	require.NoError(t, st.AppendText(logPath, "line one\n"))
	require.NoError(t, st.AppendText(logPath, "line two\n"))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))

	entries, err := st.List(nested)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.log", entries[0].Name())
}

func TestStorageCacheIdentity(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A", "B")
	require.NoError(t, c.Connect())

	st1, err := c.Storage("B")
	require.NoError(t, err)
	st2, err := c.Storage("B")
	require.NoError(t, err)
	assert.Same(t, st1, st2, "the capability object is cached per endpoint")

	stDefault, err := c.Storage()
	require.NoError(t, err)
	assert.Same(t, st1, stDefault, "default endpoint is the last hop")
}

func TestStorageAddressing(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A", "B")

	_, err := c.Storage("nope")
	require.ErrorIs(t, err, ErrEndpointNotFound)

	_, err = c.Storage("B")
	require.ErrorIs(t, err, ErrEndpointNotConnected)

	require.NoError(t, c.Connect())

	// named remotes are found after hop names miss
	require.NoError(t, c.AddRemote("db", serverHops(t, s, "db")[0], "A"))
	st, err := c.Storage("db")
	require.NoError(t, err)
	assert.NotNil(t, st)
}
