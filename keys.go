package sshchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a freshly generated ed25519 key pair in the two formats the
// chain needs: the private key as OpenSSH PEM (usable as Hop.PrivateKey)
// and the public key as an authorized_keys line.
type KeyPair struct {
	PrivatePEM    []byte
	AuthorizedKey []byte
}

// GenerateKeyPair creates an ed25519 key pair. The comment ends up in both
// the private key and the authorized_keys line.
func GenerateKeyPair(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	line := strings.TrimRight(string(ssh.MarshalAuthorizedKey(sshPub)), "\n")
	if comment != "" {
		line += " " + comment
	}

	return &KeyPair{
		PrivatePEM:    pem.EncodeToMemory(block),
		AuthorizedKey: []byte(line + "\n"),
	}, nil
}

// ProvisionAuthorizedKey installs an authorized_keys line on the endpoint
// behind st, creating ~/.ssh with conventional permissions if needed. The
// sshDir is relative to the remote user's home unless absolute; empty means
// ".ssh". The line is appended only if not already present.
func ProvisionAuthorizedKey(st *Storage, authorizedKey []byte, sshDir string) error {
	if sshDir == "" {
		sshDir = ".ssh"
	}
	keyPath := path.Join(sshDir, "authorized_keys")

	if err := st.EnsureDir(sshDir); err != nil {
		return fmt.Errorf("ensure %q: %w", sshDir, err)
	}
	if err := st.Chmod(sshDir, 0700); err != nil {
		return fmt.Errorf("chmod %q: %w", sshDir, err)
	}

	line := strings.TrimRight(string(authorizedKey), "\n")
	exists, err := st.Exists(keyPath)
	if err != nil {
		return err
	}
	if exists {
		current, err := readRemoteFile(st, keyPath)
		if err != nil {
			return err
		}
		for _, l := range strings.Split(current, "\n") {
			if strings.TrimSpace(l) == line {
				return nil
			}
		}
	}

	if err := st.AppendText(keyPath, line+"\n"); err != nil {
		return err
	}
	return st.Chmod(keyPath, 0600)
}

func readRemoteFile(st *Storage, p string) (string, error) {
	f, err := st.sftp.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", p, err)
	}
	defer f.Close()

	var b strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		b.Write(buf[:n])
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("read %q: %w", p, err)
		}
	}
}
