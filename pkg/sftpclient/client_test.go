package sftpclient

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func newStore(t *testing.T) *trust.Store {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "server_key")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	store, err := trust.NewStore(path)
	require.NoError(t, err)
	return store
}

func TestVerifyHostKeyRejectsMismatch(t *testing.T) {
	pinned := newSigner(t)
	presented := newSigner(t)

	store := newStore(t)
	descriptor := &types.ClientDescriptor{
		Name:   "client-a",
		Pubkey: string(ssh.MarshalAuthorizedKey(pinned.PublicKey())),
	}

	client, err := New(descriptor, store)
	require.NoError(t, err)

	err = client.verifyHostKey("client-a", nil, presented.PublicKey())
	require.Error(t, err)
	assert.Equal(t, errs.KindHostKeyMismatch, errs.KindOf(err))
	assert.Same(t, err, client.lastHostKeyErr)
}

func TestVerifyHostKeyAcceptsPinnedMatch(t *testing.T) {
	pinned := newSigner(t)

	store := newStore(t)
	descriptor := &types.ClientDescriptor{
		Name:   "client-a",
		Pubkey: string(ssh.MarshalAuthorizedKey(pinned.PublicKey())),
	}

	client, err := New(descriptor, store)
	require.NoError(t, err)

	assert.NoError(t, client.verifyHostKey("client-a", nil, pinned.PublicKey()))
	assert.Nil(t, client.lastHostKeyErr)
}
