package sftpserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/certdeploy/pkg/sftpclient"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

// generateKeypair returns an ed25519 keypair as its public key, its private
// key (so a test can persist it to disk for trust.NewStore) and an
// ssh.Signer (for configuring the embedded server's host key directly).
func generateKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return pub, priv, signer
}

func writePrivateKeyFile(t *testing.T, dir, name string, priv ed25519.PrivateKey) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func authorizedKeyLine(key ssh.PublicKey) string {
	return string(ssh.MarshalAuthorizedKey(key))
}

func TestUploadThroughEmbeddedServer(t *testing.T) {
	root := t.TempDir()
	keyDir := t.TempDir()

	_, _, clientHostSigner := generateKeypair(t) // the daemon's own host key
	serverPub, serverPriv, _ := generateKeypair(t)             // the pushing server's identity

	serverKeyPath := writePrivateKeyFile(t, keyDir, "server_key", serverPriv)
	realStore, err := trust.NewStore(serverKeyPath)
	require.NoError(t, err)

	port := freePort(t)

	srv, err := New(Config{
		ListenAddress: "127.0.0.1",
		ListenPort:    port,
		Username:      "certdeploy",
		HostKey:       clientHostSigner,
		AuthorizedKey: serverPub2ssh(t, serverPub),
		Root:          root,
		BannerTimeout: 5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	go srv.Serve()
	defer srv.Close()
	time.Sleep(100 * time.Millisecond)

	lineageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(lineageDir, "fullchain.pem"), []byte("FULLCHAIN"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(lineageDir, "privkey.pem"), []byte("PRIVKEY"), 0640))

	descriptor := &types.ClientDescriptor{
		Name:           "client-a",
		Address:        "127.0.0.1",
		Port:           port,
		Username:       "certdeploy",
		Pubkey:         authorizedKeyLine(clientHostSigner.PublicKey()),
		Domains:        []string{"example.com"},
		RemotePath:     root,
		NeedsFullchain: true,
		NeedsPrivkey:   true,
	}

	uploader, err := sftpclient.New(descriptor, realStore)
	require.NoError(t, err)

	job := &types.PushJob{LineageName: "example.com", LineagePath: lineageDir, Domains: []string{"example.com"}}
	require.NoError(t, uploader.Upload(job))

	data, err := os.ReadFile(filepath.Join(root, "example.com", "fullchain.pem"))
	require.NoError(t, err)
	require.Equal(t, "FULLCHAIN", string(data))

	data, err = os.ReadFile(filepath.Join(root, "example.com", "privkey.pem"))
	require.NoError(t, err)
	require.Equal(t, "PRIVKEY", string(data))

	fullchainInfo, err := os.Stat(filepath.Join(root, "example.com", "fullchain.pem"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), fullchainInfo.Mode().Perm(), "uploaded mode must match the source, not Filewrite's default")

	privkeyInfo, err := os.Stat(filepath.Join(root, "example.com", "privkey.pem"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0640), privkeyInfo.Mode().Perm())
}

func serverPub2ssh(t *testing.T, pub ed25519.PublicKey) ssh.PublicKey {
	t.Helper()
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}
