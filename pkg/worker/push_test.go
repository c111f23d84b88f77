package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/queue"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

// fakeUploader fails its first `failures` calls with a transient error,
// then succeeds. Calls are counted for assertions, and every job name seen
// is recorded so tests can assert on exactly which jobs a client received.
type fakeUploader struct {
	mu       sync.Mutex
	failures int
	calls    int
	fatal    bool
	seen     []string
}

func (f *fakeUploader) Upload(job *types.PushJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, job.LineageName)
	if f.fatal {
		return errs.New(errs.KindHostKeyMismatch, "pinned key mismatch")
	}
	if f.calls <= f.failures {
		return errs.New(errs.KindSFTPTransient, "connection refused")
	}
	return nil
}

func newTestEngine(t *testing.T, cfg *config.ServerConfig, uploaders map[string]*fakeUploader) (*Engine, *queue.Queue) {
	t.Helper()
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	store := &trust.Store{}
	e := New(cfg, q, store, zerolog.Nop())
	e.newUploader = func(descriptor *types.ClientDescriptor, _ *trust.Store) (Uploader, error) {
		return uploaders[descriptor.DisplayName()], nil
	}
	return e, q
}

// newTestEngineByIndex wires one uploader per client slot by position in
// cfg.ClientConfigs, so tests can cover descriptors that collide on
// DisplayName() (e.g. two unnamed descriptors sharing an address).
func newTestEngineByIndex(t *testing.T, cfg *config.ServerConfig, uploaders []*fakeUploader) (*Engine, *queue.Queue) {
	t.Helper()
	q, err := queue.New(t.TempDir())
	require.NoError(t, err)

	byPointer := make(map[*types.ClientDescriptor]*fakeUploader, len(uploaders))
	for i, descriptor := range cfg.ClientConfigs {
		byPointer[descriptor] = uploaders[i]
	}

	store := &trust.Store{}
	e := New(cfg, q, store, zerolog.Nop())
	e.newUploader = func(descriptor *types.ClientDescriptor, _ *trust.Store) (Uploader, error) {
		return byPointer[descriptor], nil
	}
	return e, q
}

func baseDescriptor(name string) *types.ClientDescriptor {
	return &types.ClientDescriptor{Name: name, Address: name, Domains: []string{"example.com"}}
}

func TestDrainSerialDeliversAndEmptiesQueue(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a"), baseDescriptor("b")}

	uploaders := map[string]*fakeUploader{"a": {}, "b": {}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))

	require.NoError(t, e.Drain())
	assert.Equal(t, 1, uploaders["a"].calls)
	assert.Equal(t, 1, uploaders["b"].calls)

	empty, err := q.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestDrainRetriesTransientUpToBudget(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.PushRetries = 2
	cfg.PushRetryInterval = 0
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a")}

	uploaders := map[string]*fakeUploader{"a": {failures: 2}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))
	require.NoError(t, e.Drain())
	assert.Equal(t, 3, uploaders["a"].calls) // 1 initial + 2 retries, third succeeds
}

func TestDrainClientLevelPushRetriesOverridesServerDefault(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.PushRetries = 10
	cfg.PushRetryInterval = 0

	zero := 0
	descriptor := baseDescriptor("a")
	descriptor.PushRetries = &zero
	cfg.ClientConfigs = []*types.ClientDescriptor{descriptor}

	uploaders := map[string]*fakeUploader{"a": {failures: 10}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))
	require.NoError(t, e.Drain())
	assert.Equal(t, 1, uploaders["a"].calls) // push_retries=0 => exactly one attempt
}

func TestDrainFailFastAbortsAndPreservesQueue(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.FailFast = true
	cfg.PushRetries = 0
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a")}

	uploaders := map[string]*fakeUploader{"a": {fatal: true}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))

	err := e.Drain()
	require.Error(t, err)

	empty, err2 := q.IsEmpty()
	require.NoError(t, err2)
	assert.False(t, empty, "fail_fast abort must not remove jobs from the queue")
}

func TestDrainHostKeyMismatchIsNeverRetried(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.PushRetries = 5
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a")}

	uploaders := map[string]*fakeUploader{"a": {fatal: true}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))
	require.NoError(t, e.Drain())
	assert.Equal(t, 1, uploaders["a"].calls)
}

func TestDrainParallelModeRunsClientsConcurrently(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeParallel
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a"), baseDescriptor("b")}

	uploaders := map[string]*fakeUploader{"a": {}, "b": {}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))

	start := time.Now()
	require.NoError(t, e.Drain())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, uploaders["a"].calls)
	assert.Equal(t, 1, uploaders["b"].calls)
}

func TestDrainDoesNotCrossDeliverCollidingDescriptors(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial

	// Two unnamed descriptors sharing an address: both must be kept as
	// distinct targets, each only receiving jobs matching its own domains.
	first := &types.ClientDescriptor{Address: "10.0.0.5", Domains: []string{"a.example.com"}}
	second := &types.ClientDescriptor{Address: "10.0.0.5", Domains: []string{"b.example.com"}}
	cfg.ClientConfigs = []*types.ClientDescriptor{first, second}

	uploaderFirst := &fakeUploader{}
	uploaderSecond := &fakeUploader{}
	e, q := newTestEngineByIndex(t, cfg, []*fakeUploader{uploaderFirst, uploaderSecond})

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "a.example.com", Domains: []string{"a.example.com"}, LineagePath: "/tmp/a.example.com"}))
	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "b.example.com", Domains: []string{"b.example.com"}, LineagePath: "/tmp/b.example.com"}))

	require.NoError(t, e.Drain())

	assert.Equal(t, []string{"a.example.com"}, uploaderFirst.seen)
	assert.Equal(t, []string{"b.example.com"}, uploaderSecond.seen)
}

func TestDrainSerialPacesBetweenDistinctClients(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.PushMode = types.PushModeSerial
	cfg.PushInterval = 1
	cfg.ClientConfigs = []*types.ClientDescriptor{baseDescriptor("a"), baseDescriptor("b"), baseDescriptor("c")}

	uploaders := map[string]*fakeUploader{"a": {}, "b": {}, "c": {}}
	e, q := newTestEngine(t, cfg, uploaders)

	require.NoError(t, q.Enqueue(&types.PushJob{LineageName: "example.com", Domains: []string{"example.com"}, LineagePath: "/tmp/example.com"}))

	start := time.Now()
	require.NoError(t, e.Drain())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second, "3 clients at push_interval=1s should pace (N-1) gaps")
	assert.Equal(t, 1, uploaders["a"].calls)
	assert.Equal(t, 1, uploaders["b"].calls)
	assert.Equal(t, 1, uploaders["c"].calls)
}
