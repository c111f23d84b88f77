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

// TestWeekUnitSkipsNMinusOneFires verifies the every-N-weeks approximation:
// cron fires weekly, and fire() should only run the renewal on every third
// call when renew_every is 3.
func TestWeekUnitSkipsNMinusOneFires(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "count")
	script := writeRenewScript(t, "echo x >> "+marker+"\nexit 0\n")

	cfg := config.DefaultServerConfig()
	cfg.RenewExec = script
	cfg.RenewUnit = types.RenewUnitWeek
	cfg.RenewEvery = 3
	cfg.RenewArgs = nil

	s, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.everyN)

	s.fire()
	s.fire()
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Fatalf("renewal ran before the third fire")
	}

	s.fire()
	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(content))
}

func TestWeekUnitEveryOneRunsEachFire(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "count")
	script := writeRenewScript(t, "echo x >> "+marker+"\nexit 0\n")

	cfg := config.DefaultServerConfig()
	cfg.RenewExec = script
	cfg.RenewUnit = types.RenewUnitWeek
	cfg.RenewEvery = 1
	cfg.RenewArgs = nil

	s, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	s.fire()
	s.fire()

	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "x\nx\n", string(content))
}
