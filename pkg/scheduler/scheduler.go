package scheduler

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cuemby/certdeploy/pkg/config"
	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/types"
)

// State is the scheduler's current lifecycle phase.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Scheduler fires the renewal executable on a cron-like cadence.
type Scheduler struct {
	renewExec string
	renewArgs []string
	failFast  bool
	logger    zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu    sync.Mutex
	state State

	everyN  int
	fireCnt int

	// onFatal is invoked when fail_fast is set and a renewal exits
	// non-zero; it is the daemon's hook to terminate itself.
	onFatal func(error)
}

// New builds a Scheduler from cfg, registering (but not starting) its cron
// entry. For week and weekday units, everyN (from buildCronSpec) controls
// how many weekly fires are skipped to approximate "every N weeks" on top
// of cron's weekly grammar.
func New(cfg *config.ServerConfig, logger zerolog.Logger, onFatal func(error)) (*Scheduler, error) {
	spec, everyN, err := buildCronSpec(cfg.RenewUnit, cfg.RenewEvery, cfg.RenewAt)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		renewExec: cfg.RenewExec,
		renewArgs: cfg.RenewArgs,
		failFast:  cfg.FailFast,
		logger:    logger,
		cron:      cron.New(),
		state:     StateIdle,
		everyN:    everyN,
		onFatal:   onFatal,
	}
	if s.renewExec == "" {
		s.renewExec = "certbot"
	}

	entryID, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigError, fmt.Sprintf("invalid renewal schedule %q", spec), err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, waiting for any in-flight fire to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow fires the renewal immediately, bypassing the schedule. Used by
// --renew on the CLI.
func (s *Scheduler) RunNow() error {
	return s.runRenewal()
}

func (s *Scheduler) fire() {
	if s.everyN > 1 {
		s.mu.Lock()
		s.fireCnt++
		skip := s.fireCnt%s.everyN != 0
		s.mu.Unlock()
		if skip {
			return
		}
	}
	if err := s.runRenewal(); err != nil && s.failFast && s.onFatal != nil {
		s.onFatal(err)
	}
}

func (s *Scheduler) runRenewal() error {
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	cmd := exec.Command(s.renewExec, s.renewArgs...)
	out, err := cmd.CombinedOutput()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("output", trimOutput(out)).Msg("renewal run failed")
		return errs.Wrap(errs.KindRenewError, fmt.Sprintf("%s %v failed", s.renewExec, s.renewArgs), err)
	}
	s.logger.Info().Str("output", trimOutput(out)).Msg("renewal run completed")
	return nil
}

// buildCronSpec translates a RenewUnit/renew_every/renew_at triple into a
// robfig/cron 5-field spec. The returned everyN is 1 except for the week
// and weekday units, where cron alone cannot express a multi-week period
// and the caller must skip fires itself.
func buildCronSpec(unit types.RenewUnit, every int, at string) (string, int, error) {
	hh, mm := 0, 0
	if at != "" {
		if _, err := fmt.Sscanf(at, "%2d:%2d", &hh, &mm); err != nil {
			return "", 0, errs.Wrap(errs.KindConfigError, fmt.Sprintf("invalid renew_at %q", at), err)
		}
	}

	switch unit {
	case types.RenewUnitMinute:
		return fmt.Sprintf("*/%d * * * *", every), 1, nil
	case types.RenewUnitDay:
		return fmt.Sprintf("%d %d */%d * *", mm, hh, every), 1, nil
	case types.RenewUnitWeek:
		return fmt.Sprintf("%d %d * * 0", mm, hh), every, nil
	case types.RenewUnitMonday:
		return fmt.Sprintf("%d %d * * 1", mm, hh), every, nil
	case types.RenewUnitTuesday:
		return fmt.Sprintf("%d %d * * 2", mm, hh), every, nil
	case types.RenewUnitWednesday:
		return fmt.Sprintf("%d %d * * 3", mm, hh), every, nil
	case types.RenewUnitThursday:
		return fmt.Sprintf("%d %d * * 4", mm, hh), every, nil
	case types.RenewUnitFriday:
		return fmt.Sprintf("%d %d * * 5", mm, hh), every, nil
	case types.RenewUnitSaturday:
		return fmt.Sprintf("%d %d * * 6", mm, hh), every, nil
	case types.RenewUnitSunday:
		return fmt.Sprintf("%d %d * * 0", mm, hh), every, nil
	default:
		return "", 0, errs.New(errs.KindConfigError, fmt.Sprintf("unrecognized renew_unit %q", unit))
	}
}

func trimOutput(out []byte) string {
	const max = 1000
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
