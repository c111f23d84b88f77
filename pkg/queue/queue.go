package queue

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/metrics"
	"github.com/cuemby/certdeploy/pkg/types"
)

const (
	queueFilename = "queue"
	lockFilename  = "queue.lock"
)

// Queue is a durable multiset of push jobs keyed by LineageName, stored
// under dir as a single JSON file protected by an advisory file lock.
type Queue struct {
	dir      string
	path     string
	lockPath string
}

// New returns a Queue rooted at dir, creating dir if necessary.
func New(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errs.Wrap(errs.KindConfigError, "failed to create queue_dir", err)
	}
	q := &Queue{
		dir:      dir,
		path:     filepath.Join(dir, queueFilename),
		lockPath: filepath.Join(dir, lockFilename),
	}
	// Unlocked best-effort read: nothing else holds a reference to this
	// queue yet, only used to seed the gauge before the first write.
	if jobs, err := q.readLocked(); err == nil {
		metrics.QueueDepth.Set(float64(len(jobs)))
	}
	return q, nil
}

// Enqueue adds job, collapsing any existing job with the same LineageName.
// The newer job's Domains supersede the prior entry's.
func (q *Queue) Enqueue(job *types.PushJob) error {
	lock := flock.New(q.lockPath)
	if err := lock.Lock(); err != nil {
		return errs.Wrap(errs.KindQueueCorrupt, "failed acquiring queue lock", err)
	}
	defer lock.Unlock()

	jobs, err := q.readLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range jobs {
		if existing.LineageName == job.LineageName {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}

	return q.writeLocked(jobs)
}

// Snapshot returns the full pending set for draining.
func (q *Queue) Snapshot() ([]*types.PushJob, error) {
	lock := flock.New(q.lockPath)
	if err := lock.RLock(); err != nil {
		return nil, errs.Wrap(errs.KindQueueCorrupt, "failed acquiring queue read lock", err)
	}
	defer lock.Unlock()

	return q.readLocked()
}

// Remove drops the job for lineageName, e.g. once every targeted client has
// been attempted up to its retry budget.
func (q *Queue) Remove(lineageName string) error {
	lock := flock.New(q.lockPath)
	if err := lock.Lock(); err != nil {
		return errs.Wrap(errs.KindQueueCorrupt, "failed acquiring queue lock", err)
	}
	defer lock.Unlock()

	jobs, err := q.readLocked()
	if err != nil {
		return err
	}

	kept := jobs[:0]
	for _, job := range jobs {
		if job.LineageName != lineageName {
			kept = append(kept, job)
		}
	}
	return q.writeLocked(kept)
}

// IsEmpty reports whether the queue currently holds no jobs.
func (q *Queue) IsEmpty() (bool, error) {
	jobs, err := q.Snapshot()
	if err != nil {
		return false, err
	}
	return len(jobs) == 0, nil
}

// readLocked must be called with the lock already held (shared or
// exclusive). A missing file is an empty queue, not an error.
func (q *Queue) readLocked() ([]*types.PushJob, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindQueueCorrupt, "failed reading queue file", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var jobs []*types.PushJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, errs.Wrap(errs.KindQueueCorrupt, "queue file is not valid JSON", err)
	}
	return jobs, nil
}

// writeLocked must be called with the exclusive lock held. It writes to a
// temp file in the same directory and renames over the real path, so a
// crash mid-write never leaves a torn queue file.
func (q *Queue) writeLocked(jobs []*types.PushJob) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindGeneric, "failed marshaling queue", err)
	}

	tmp, err := os.CreateTemp(q.dir, ".queue-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindQueueCorrupt, "failed creating queue temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindQueueCorrupt, "failed writing queue temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindQueueCorrupt, "failed syncing queue temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindQueueCorrupt, "failed closing queue temp file", err)
	}

	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindQueueCorrupt, "failed renaming queue temp file into place", err)
	}
	metrics.QueueDepth.Set(float64(len(jobs)))
	return nil
}

// Path returns the queue's backing file path, for diagnostics.
func (q *Queue) Path() string {
	return q.path
}
