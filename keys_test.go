package sshchain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerateKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair("deploy@chain")
	require.NoError(t, err)

	signer, err := ssh.ParsePrivateKey(pair.PrivatePEM)
	require.NoError(t, err)

	pub, comment, _, _, err := ssh.ParseAuthorizedKey(pair.AuthorizedKey)
	require.NoError(t, err)
	assert.Equal(t, "deploy@chain", comment)
	assert.Equal(t, signer.PublicKey().Type(), pub.Type())
	assert.Equal(t, signer.PublicKey().Marshal(), pub.Marshal())
}

func TestProvisionAuthorizedKeyIsIdempotent(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A")
	require.NoError(t, c.Connect())

	st, err := c.Storage()
	require.NoError(t, err)

	pair, err := GenerateKeyPair("deploy@chain")
	require.NoError(t, err)

	sshDir := filepath.Join(t.TempDir(), ".ssh")
	require.NoError(t, ProvisionAuthorizedKey(st, pair.AuthorizedKey, sshDir))
	require.NoError(t, ProvisionAuthorizedKey(st, pair.AuthorizedKey, sshDir))

	data, err := os.ReadFile(filepath.Join(sshDir, "authorized_keys"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), strings.TrimRight(string(pair.AuthorizedKey), "\n")),
		"the key must be appended exactly once")

	info, err := os.Stat(sshDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestReadRemoteFile(t *testing.T) {
	s := startTestServer(t)
	c := newTestChain(t, s, "A")
	require.NoError(t, c.Connect())

	st, err := c.Storage()
	require.NoError(t, err)

	// several transfer-buffer lengths, so the read loop iterates
	content := strings.Repeat("0123456789abcdef", 8192)
	p := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))

	got, err := readRemoteFile(st, p)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, st.Close())
	_, err = readRemoteFile(st, p)
	require.Error(t, err, "a failed read must surface, never pass for a short file")
}
