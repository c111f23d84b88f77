package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
ca: /etc/certdeploy/ca_key
client_configs:
  - address: client-a.example.com
    pubkey: "ssh-ed25519 AAAA..."
    domains: [example.com]
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/certdeploy/ca_key", cfg.PrivateKeyPath)
	assert.Equal(t, types.PushModeSerial, cfg.PushMode)
	assert.Equal(t, 1, cfg.PushRetries)
	assert.Equal(t, types.RenewUnitDay, cfg.RenewUnit)
	require.Len(t, cfg.ClientConfigs, 1)
	assert.Equal(t, "client-a.example.com", cfg.ClientConfigs[0].Address)
}

func TestLoadServerConfigRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", "push_mdoe: serial\n")

	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigError, errs.KindOf(err))
}

func TestLoadServerConfigRejectsBadPushMode(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", "push_mode: sometimes\n")

	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigError, errs.KindOf(err))
	assert.Contains(t, err.Error(), "push_mode must be")
}

func TestLoadServerConfigRequiresClientPubkeyAndDomains(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
client_configs:
  - address: client-a.example.com
`)
	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubkey must be")
}

func TestLoadClientConfigDefaultsSFTPD(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client.yml", `
source: /var/lib/certdeploy/source
destination: /etc/certdeploy/live
sftpd:
  server_pubkey: "ssh-ed25519 AAAA..."
update_services:
  - type: container
    name: nginx
`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.SFTPD.ListenPort)
	assert.Equal(t, "certdeploy", cfg.SFTPD.Username)
	require.Len(t, cfg.UpdateServices, 1)
	assert.Equal(t, types.UnitActionRestart, cfg.UpdateServices[0].EffectiveAction())
	assert.Equal(t, map[string]string{"name": "^nginx$"}, cfg.UpdateServices[0].EffectiveFilters())
}

func TestLoadClientConfigRejectsUnknownUpdateServiceType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client.yml", `
source: /var/lib/certdeploy/source
destination: /etc/certdeploy/live
sftpd:
  server_pubkey: "ssh-ed25519 AAAA..."
update_services:
  - type: reboot_the_universe
    name: nginx
`)
	_, err := LoadClientConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_services[].type must be")
}

func TestLoadClientConfigRequiresUnitNameForInitUnit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client.yml", `
source: /var/lib/certdeploy/source
destination: /etc/certdeploy/live
sftpd:
  server_pubkey: "ssh-ed25519 AAAA..."
update_services:
  - type: init_unit
    action: reload
`)
	_, err := LoadClientConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_services[].name must be")
}

func TestEmptyPathReturnsDefaults(t *testing.T) {
	_, err := LoadServerConfig("")
	assert.NoError(t, err)
	_, err = LoadClientConfig("")
	assert.Error(t, err) // no source/destination, so defaults alone don't validate
}
