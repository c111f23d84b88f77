package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/metrics"
	"github.com/cuemby/certdeploy/pkg/queue"
	"github.com/cuemby/certdeploy/pkg/sftpclient"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

// Uploader is the subset of sftpclient.Client the engine depends on, so
// tests can substitute a fake transport without a real network.
type Uploader interface {
	Upload(job *types.PushJob) error
}

// UploaderFactory builds an Uploader for one client descriptor. Production
// code wires sftpclient.New; tests wire a fake.
type UploaderFactory func(descriptor *types.ClientDescriptor, store *trust.Store) (Uploader, error)

// Engine is the push engine (C4): it drains q, delivering every pending job
// to every client that wants it, respecting push_mode, retry budgets and
// fail_fast.
type Engine struct {
	queue       *queue.Queue
	clients     []*types.ClientDescriptor
	store       *trust.Store
	newUploader UploaderFactory

	mode             types.PushMode
	defaultRetries   int
	defaultRetryWait time.Duration
	pushInterval     time.Duration
	joinTimeout      *time.Duration
	failFast         bool

	logger zerolog.Logger
}

func defaultUploaderFactory(descriptor *types.ClientDescriptor, store *trust.Store) (Uploader, error) {
	return sftpclient.New(descriptor, store)
}

// New builds an Engine from cfg, q and store, using the real SFTP uploader.
func New(cfg *config.ServerConfig, q *queue.Queue, store *trust.Store, logger zerolog.Logger) *Engine {
	e := &Engine{
		queue:            q,
		clients:          cfg.ClientConfigs,
		store:            store,
		newUploader:      defaultUploaderFactory,
		mode:             cfg.PushMode,
		defaultRetries:   cfg.PushRetries,
		defaultRetryWait: time.Duration(cfg.PushRetryInterval) * time.Second,
		pushInterval:     time.Duration(cfg.PushInterval) * time.Second,
		failFast:         cfg.FailFast,
		logger:           logger,
	}
	if cfg.JoinTimeout != nil {
		d := time.Duration(*cfg.JoinTimeout) * time.Second
		e.joinTimeout = &d
	}
	if e.mode == "" {
		e.mode = types.PushModeSerial
	}
	return e
}

// Drain snapshots the queue and delivers every job to every wanting client.
// When every targeted client has succeeded or exhausted its retry budget
// for a lineage, that lineage is removed from the queue. Under fail_fast,
// the first pair that exhausts its budget aborts the whole drain and
// Drain returns that error; the queue is left untouched so the next drain
// retries everything from scratch. Without fail_fast, Drain always
// returns nil and failures are only logged.
func (e *Engine) Drain() error {
	jobs, err := e.queue.Snapshot()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	perClient := e.assignJobs(jobs)

	var abortMu sync.Mutex
	var abort error
	setAbort := func(err error) {
		abortMu.Lock()
		defer abortMu.Unlock()
		if abort == nil {
			abort = err
		}
	}

	switch e.mode {
	case types.PushModeParallel:
		var wg sync.WaitGroup
		started := 0
		for i, descriptor := range e.clients {
			pairs := perClient[i]
			if len(pairs) == 0 {
				continue
			}
			if started > 0 && e.pushInterval > 0 {
				time.Sleep(e.pushInterval)
			}
			started++
			wg.Add(1)
			go func(d *types.ClientDescriptor, jobs []*types.PushJob) {
				defer wg.Done()
				if err := e.drainClient(d, jobs); err != nil {
					setAbort(err)
				}
			}(descriptor, pairs)
		}
		e.waitWithJoinTimeout(&wg)
	default: // serial
		started := 0
		for i, descriptor := range e.clients {
			pairs := perClient[i]
			if len(pairs) == 0 {
				continue
			}
			if started > 0 && e.pushInterval > 0 {
				time.Sleep(e.pushInterval)
			}
			started++
			if err := e.drainClient(descriptor, pairs); err != nil {
				setAbort(err)
				if e.failFast {
					break
				}
			}
		}
	}

	if abort != nil && e.failFast {
		return abort
	}

	for _, job := range jobs {
		e.queue.Remove(job.LineageName)
	}
	return nil
}

// assignJobs groups the queue snapshot by targeted client, preserving
// snapshot (enqueue) order within each client. Clients are keyed by their
// index in e.clients, not by DisplayName(), since two inline/directory
// descriptors may share an address+port and must still be kept distinct.
func (e *Engine) assignJobs(jobs []*types.PushJob) map[int][]*types.PushJob {
	out := make(map[int][]*types.PushJob)
	for i, descriptor := range e.clients {
		for _, job := range jobs {
			if descriptor.WantsDomain(job.Domains) {
				out[i] = append(out[i], job)
			}
		}
	}
	return out
}

// drainClient delivers jobs to descriptor in order, honoring the pair's
// retry budget. It returns the first failure encountered, but (outside
// fail_fast) keeps attempting the remaining jobs for this client.
func (e *Engine) drainClient(descriptor *types.ClientDescriptor, jobs []*types.PushJob) error {
	uploader, err := e.newUploader(descriptor, e.store)
	if err != nil {
		return err
	}

	var firstErr error
	for _, job := range jobs {
		if err := e.deliver(descriptor, uploader, job); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if e.failFast {
				return err
			}
		}
	}
	return firstErr
}

// deliver runs one (job, client) pair to completion, retrying transient
// failures up to the pair's retry budget.
func (e *Engine) deliver(descriptor *types.ClientDescriptor, uploader Uploader, job *types.PushJob) error {
	retries := e.defaultRetries
	if descriptor.PushRetries != nil {
		retries = *descriptor.PushRetries
	}
	wait := e.defaultRetryWait
	if descriptor.PushRetryInterval != nil {
		wait = time.Duration(*descriptor.PushRetryInterval) * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		timer := metrics.NewTimer()
		err := uploader.Upload(job)
		timer.ObserveDuration(metrics.PushDuration)

		if err == nil {
			metrics.PushAttemptsTotal.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = err
		e.logger.Error().Msgf("Error syncing with %s: %s", descriptor.DisplayName(), err.Error())

		if !isRetryable(err) {
			metrics.PushAttemptsTotal.WithLabelValues("fatal_error").Inc()
			return err
		}
		metrics.PushAttemptsTotal.WithLabelValues("transient_error").Inc()
		if attempt < retries && wait > 0 {
			time.Sleep(wait)
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	return errs.KindOf(err) == errs.KindSFTPTransient
}

// waitWithJoinTimeout waits for wg, bounded by e.joinTimeout when set. A nil
// joinTimeout means unbounded waiting.
func (e *Engine) waitWithJoinTimeout(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if e.joinTimeout == nil {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(*e.joinTimeout):
		e.logger.Warn().Msg("join_timeout elapsed with push workers still in flight")
	}
}
