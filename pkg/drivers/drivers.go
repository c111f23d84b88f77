package drivers

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/metrics"
	"github.com/cuemby/certdeploy/pkg/runtime"
	"github.com/cuemby/certdeploy/pkg/types"
)

// Driver runs one update action to completion or returns a typed error.
type Driver interface {
	Run(ctx context.Context, svc *types.UpdateService) error
}

// Registry dispatches an UpdateService to the driver for its Type.
type Registry struct {
	Container    Driver
	Orchestrator Driver
	InitUnit     Driver
	RCUnit       Driver
	Script       Driver
}

// Run dispatches svc to the matching driver and records the outcome to
// metrics, regardless of which concrete driver handled it.
func (reg *Registry) Run(ctx context.Context, svc *types.UpdateService) error {
	var d Driver
	switch svc.Type {
	case types.UpdateKindContainer:
		d = reg.Container
	case types.UpdateKindOrchestrator:
		d = reg.Orchestrator
	case types.UpdateKindInitUnit:
		d = reg.InitUnit
	case types.UpdateKindRCUnit:
		d = reg.RCUnit
	case types.UpdateKindScript:
		d = reg.Script
	default:
		return errs.New(errs.KindGeneric, fmt.Sprintf("no driver registered for update kind %q", svc.Type))
	}

	err := d.Run(ctx, svc)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.DriverRunsTotal.WithLabelValues(string(svc.Type), result).Inc()
	return err
}

// withTimeout resolves descriptor.Timeout, then fallback, then no deadline.
func withTimeout(ctx context.Context, svcTimeout *int, fallback time.Duration) (context.Context, context.CancelFunc) {
	if svcTimeout != nil {
		return context.WithTimeout(ctx, time.Duration(*svcTimeout)*time.Second)
	}
	if fallback > 0 {
		return context.WithTimeout(ctx, fallback)
	}
	return ctx, func() {}
}

// ContainerDriver restarts a Docker container by exact name or filter.
type ContainerDriver struct {
	Runtime        *runtime.DockerRuntime
	DefaultTimeout time.Duration
}

func (d *ContainerDriver) Run(ctx context.Context, svc *types.UpdateService) error {
	ctx, cancel := withTimeout(ctx, svc.Timeout, d.DefaultTimeout)
	defer cancel()

	timeout := d.DefaultTimeout
	if svc.Timeout != nil {
		timeout = time.Duration(*svc.Timeout) * time.Second
	}
	return d.Runtime.RestartContainers(ctx, svc.EffectiveFilters(), timeout)
}

// OrchestratorDriver rolls a Swarm service.
type OrchestratorDriver struct {
	Runtime        *runtime.DockerRuntime
	DefaultTimeout time.Duration
}

func (d *OrchestratorDriver) Run(ctx context.Context, svc *types.UpdateService) error {
	ctx, cancel := withTimeout(ctx, svc.Timeout, d.DefaultTimeout)
	defer cancel()

	return d.Runtime.ForceUpdateService(ctx, svc.Name, svc.EffectiveFilters())
}

// UnitDriver shells out to systemctl or service(8) to restart or reload a
// named unit, depending on Kind.
type UnitDriver struct {
	Kind           types.UpdateKind // UpdateKindInitUnit or UpdateKindRCUnit
	Exec           string           // systemd_exec or rc_service_exec
	DefaultTimeout time.Duration
}

func (d *UnitDriver) Run(ctx context.Context, svc *types.UpdateService) error {
	ctx, cancel := withTimeout(ctx, svc.Timeout, d.DefaultTimeout)
	defer cancel()

	var cmd *exec.Cmd
	action := string(svc.EffectiveAction())
	switch d.Kind {
	case types.UpdateKindInitUnit:
		cmd = exec.CommandContext(ctx, d.Exec, action, svc.Name)
	case types.UpdateKindRCUnit:
		cmd = exec.CommandContext(ctx, d.Exec, svc.Name, action)
	default:
		return errs.New(errs.KindUnitError, fmt.Sprintf("unit driver misconfigured for kind %q", d.Kind))
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return errs.Wrap(errs.KindUnitError, fmt.Sprintf("%s %s failed: %s", d.Exec, svc.Name, trimOutput(out)), err)
	}
	return nil
}

// ScriptDriver spawns an external script: name is resolved absolute → PATH
// → cwd-relative, in that order.
type ScriptDriver struct {
	DefaultTimeout time.Duration
}

func (d *ScriptDriver) Run(ctx context.Context, svc *types.UpdateService) error {
	ctx, cancel := withTimeout(ctx, svc.Timeout, d.DefaultTimeout)
	defer cancel()

	path, err := resolveScript(svc.Name)
	if err != nil {
		return errs.Wrap(errs.KindScriptError, fmt.Sprintf("cannot resolve script %s", svc.Name), err)
	}

	cmd := exec.CommandContext(ctx, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.Wrap(errs.KindScriptError, fmt.Sprintf("script %s failed: %s", path, trimOutput(out)), err)
	}
	return nil
}

func resolveScript(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	if found, err := exec.LookPath(name); err == nil {
		return found, nil
	}
	cwdRelative, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	return cwdRelative, nil
}

func trimOutput(out []byte) string {
	const max = 500
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
