package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/queue"
)

func TestRunEnqueuesJobFromEnv(t *testing.T) {
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	env := Env{
		EnvRenewedLineage: "/etc/letsencrypt/live/example.com",
		EnvRenewedDomains: "example.com www.example.com",
	}
	require.NoError(t, Run(env, q))

	jobs, err := q.Snapshot()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "example.com", jobs[0].LineageName)
	assert.Equal(t, "/etc/letsencrypt/live/example.com", jobs[0].LineagePath)
	assert.Equal(t, []string{"example.com", "www.example.com"}, jobs[0].Domains)
	assert.NotEmpty(t, jobs[0].ID)
}

func TestRunMissingLineageIsConfigError(t *testing.T) {
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	env := Env{EnvRenewedDomains: "example.com"}
	err = Run(env, q)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigError, errs.KindOf(err))
}

func TestRunMissingDomainsIsConfigError(t *testing.T) {
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	env := Env{EnvRenewedLineage: "/etc/letsencrypt/live/example.com"}
	err = Run(env, q)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigError, errs.KindOf(err))
}

func TestRunCollapsesDuplicateLineage(t *testing.T) {
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	env := Env{
		EnvRenewedLineage: "/etc/letsencrypt/live/example.com",
		EnvRenewedDomains: "example.com",
	}
	require.NoError(t, Run(env, q))

	env[EnvRenewedDomains] = "example.com www.example.com"
	require.NoError(t, Run(env, q))

	jobs, err := q.Snapshot()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{"example.com", "www.example.com"}, jobs[0].Domains)
}
