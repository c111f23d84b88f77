package deploy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/certdeploy/pkg/drivers"
	"github.com/cuemby/certdeploy/pkg/promote"
	"github.com/cuemby/certdeploy/pkg/types"
)

// State is the orchestrator's current lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StatePromoting State = "promoting"
	StateUpdating  State = "updating"
)

// Orchestrator drives promotion and update drivers for one client.
type Orchestrator struct {
	promoter *promote.Promoter
	registry *drivers.Registry
	services []*types.UpdateService
	failFast bool
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
}

// New builds an Orchestrator. services are run, in order, after every
// successful promotion.
func New(promoter *promote.Promoter, registry *drivers.Registry, services []*types.UpdateService, failFast bool, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		promoter: promoter,
		registry: registry,
		services: services,
		failFast: failFast,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the orchestrator's current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run watches for settled lineages and drives them through promotion and
// update drivers until ctx is canceled. Under fail_fast, a driver failure
// stops the watch loop and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalMu sync.Mutex
	var fatal error

	err := o.promoter.Watch(ctx, func(lineageName string) {
		o.setState(StatePromoting)
		// Watch already promoted before invoking this callback; record the
		// phase transition for observability, then run update drivers.
		o.setState(StateUpdating)

		if err := o.runUpdateServices(ctx, lineageName); err != nil && o.failFast {
			fatalMu.Lock()
			if fatal == nil {
				fatal = err
			}
			fatalMu.Unlock()
			cancel()
		}
		o.setState(StateIdle)
	})
	if err != nil {
		return err
	}

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatal
}

// runUpdateServices runs every configured update_service in declaration
// order. Outside fail_fast, a driver failure is logged and the remaining
// services still run.
func (o *Orchestrator) runUpdateServices(ctx context.Context, lineageName string) error {
	var firstErr error
	for _, svc := range o.services {
		if err := o.registry.Run(ctx, svc); err != nil {
			o.logger.Error().Err(err).Str("lineage", lineageName).Str("update_service", svc.Name).Msg("update driver failed")
			if firstErr == nil {
				firstErr = err
			}
			if o.failFast {
				return err
			}
		}
	}
	return firstErr
}
