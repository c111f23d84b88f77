package hook

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/queue"
	"github.com/cuemby/certdeploy/pkg/types"
)

const (
	// EnvRenewedLineage names the directory the ACME client just renewed.
	EnvRenewedLineage = "RENEWED_LINEAGE"
	// EnvRenewedDomains names the space-separated domain list it covers.
	EnvRenewedDomains = "RENEWED_DOMAINS"
)

// Env is the subset of the process environment the hook needs, accepted as
// a plain map so callers (and tests) don't have to mutate the real
// environment to exercise it.
type Env map[string]string

// Run builds one push job from env and enqueues it into q. It returns a
// ConfigError if either required variable is missing or empty.
func Run(env Env, q *queue.Queue) error {
	lineagePath := strings.TrimSpace(env[EnvRenewedLineage])
	if lineagePath == "" {
		return errs.New(errs.KindConfigError, EnvRenewedLineage+" is not set")
	}

	domainsRaw := strings.TrimSpace(env[EnvRenewedDomains])
	if domainsRaw == "" {
		return errs.New(errs.KindConfigError, EnvRenewedDomains+" is not set")
	}
	domains := strings.Fields(domainsRaw)

	job := &types.PushJob{
		ID:          uuid.NewString(),
		LineagePath: lineagePath,
		LineageName: filepath.Base(lineagePath),
		Domains:     domains,
		EnqueuedAt:  time.Now(),
	}

	if err := q.Enqueue(job); err != nil {
		return errs.Wrap(errs.KindQueueCorrupt, "failed enqueuing renewed lineage", err)
	}
	return nil
}
