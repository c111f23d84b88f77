package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/types"
)

func writeRenewScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "renew.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestBuildCronSpecMinute(t *testing.T) {
	spec, everyN, err := buildCronSpec(types.RenewUnitMinute, 15, "")
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", spec)
	assert.Equal(t, 1, everyN)
}

func TestBuildCronSpecDayWithRenewAt(t *testing.T) {
	spec, everyN, err := buildCronSpec(types.RenewUnitDay, 1, "03:30")
	require.NoError(t, err)
	assert.Equal(t, "30 3 */1 * *", spec)
	assert.Equal(t, 1, everyN)
}

func TestBuildCronSpecWeekReturnsEveryNForCaller(t *testing.T) {
	spec, everyN, err := buildCronSpec(types.RenewUnitWeek, 3, "00:00")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * 0", spec)
	assert.Equal(t, 3, everyN)
}

func TestBuildCronSpecWeekday(t *testing.T) {
	spec, _, err := buildCronSpec(types.RenewUnitFriday, 1, "12:00")
	require.NoError(t, err)
	assert.Equal(t, "0 12 * * 5", spec)
}

func TestBuildCronSpecRejectsUnrecognizedUnit(t *testing.T) {
	_, _, err := buildCronSpec(types.RenewUnit("fortnight"), 1, "")
	assert.Error(t, err)
}

func TestBuildCronSpecRejectsMalformedRenewAt(t *testing.T) {
	_, _, err := buildCronSpec(types.RenewUnitDay, 1, "not-a-time")
	assert.Error(t, err)
}

func TestRunNowExecutesConfiguredScript(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	script := writeRenewScript(t, "touch "+marker+"\nexit 0\n")

	cfg := config.DefaultServerConfig()
	cfg.RenewExec = script
	cfg.RenewUnit = types.RenewUnitDay
	cfg.RenewEvery = 1
	cfg.RenewArgs = nil

	s, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	require.NoError(t, s.RunNow())
	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr)
}

func TestRunNowNonZeroExitIsError(t *testing.T) {
	script := writeRenewScript(t, "exit 9\n")

	cfg := config.DefaultServerConfig()
	cfg.RenewExec = script
	cfg.RenewUnit = types.RenewUnitDay
	cfg.RenewEvery = 1
	cfg.RenewArgs = nil

	s, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	assert.Error(t, s.RunNow())
}

func TestFireFailFastInvokesOnFatal(t *testing.T) {
	script := writeRenewScript(t, "exit 3\n")

	cfg := config.DefaultServerConfig()
	cfg.RenewExec = script
	cfg.RenewUnit = types.RenewUnitDay
	cfg.RenewEvery = 1
	cfg.RenewArgs = nil
	cfg.FailFast = true

	var fatalErr error
	s, err := New(cfg, zerolog.Nop(), func(e error) { fatalErr = e })
	require.NoError(t, err)

	s.fire()
	assert.Error(t, fatalErr)
}
