package types

import "time"

// LineageFiles are the PEM files that can exist inside a lineage directory.
var LineageFiles = []string{"fullchain.pem", "chain.pem", "privkey.pem", "cert.pem"}

// PushJob is the intent to deliver one lineage to every client whose domain
// set intersects the lineage's domains. Two jobs with the same LineageName
// are deduplicated by the queue; the latest supersedes.
type PushJob struct {
	ID          string    `json:"id"`
	LineagePath string    `json:"lineage_path"`
	LineageName string    `json:"lineage_name"`
	Domains     []string  `json:"domains"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// ClientDescriptor describes one remote certdeploy-client target.
type ClientDescriptor struct {
	Name              string   `yaml:"name" json:"name"`
	Address           string   `yaml:"address" json:"address"`
	Port              int      `yaml:"port" json:"port"`
	Username          string   `yaml:"username" json:"username"`
	Pubkey            string   `yaml:"pubkey" json:"pubkey"`
	Domains           []string `yaml:"domains" json:"domains"`
	RemotePath        string   `yaml:"remote_path" json:"remote_path"`
	NeedsChain        bool     `yaml:"needs_chain" json:"needs_chain"`
	NeedsFullchain    bool     `yaml:"needs_fullchain" json:"needs_fullchain"`
	NeedsPrivkey      bool     `yaml:"needs_privkey" json:"needs_privkey"`
	PushRetries       *int     `yaml:"push_retries" json:"push_retries"`
	PushRetryInterval *int     `yaml:"push_retry_interval" json:"push_retry_interval"`
	ConnectTimeout    *int     `yaml:"connect_timeout" json:"connect_timeout"`
	SFTPBannerTimeout *int     `yaml:"sftp_banner_timeout" json:"sftp_banner_timeout"`
}

// DisplayName returns the descriptor's log-friendly identity.
func (c *ClientDescriptor) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address
}

// WantsDomain reports whether the client is a target for any of domains.
func (c *ClientDescriptor) WantsDomain(domains []string) bool {
	for _, want := range domains {
		for _, have := range c.Domains {
			if want == have {
				return true
			}
		}
	}
	return false
}

// NeededFiles returns the subset of LineageFiles enabled by the needs_* flags.
func (c *ClientDescriptor) NeededFiles() []string {
	var files []string
	if c.NeedsFullchain {
		files = append(files, "fullchain.pem")
	}
	if c.NeedsChain {
		files = append(files, "chain.pem")
	}
	if c.NeedsPrivkey {
		files = append(files, "privkey.pem")
	}
	return files
}

// UpdateKind tags the variant carried by an UpdateService descriptor.
type UpdateKind string

const (
	UpdateKindContainer    UpdateKind = "container"
	UpdateKindOrchestrator UpdateKind = "orchestrator_service"
	UpdateKindInitUnit     UpdateKind = "init_unit"
	UpdateKindRCUnit       UpdateKind = "rc_unit"
	UpdateKindScript       UpdateKind = "script"
)

// UnitAction is the action applied by init_unit/rc_unit descriptors.
type UnitAction string

const (
	UnitActionRestart UnitAction = "restart"
	UnitActionReload  UnitAction = "reload"
)

// UpdateService is a tagged variant describing one post-promotion action.
// Exactly one of Name/Filters must be set for container/orchestrator kinds.
type UpdateService struct {
	Type    UpdateKind        `yaml:"type" json:"type"`
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Filters map[string]string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Action  UnitAction        `yaml:"action,omitempty" json:"action,omitempty"`
	Timeout *int              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EffectiveAction returns Action, defaulting to restart.
func (u *UpdateService) EffectiveAction() UnitAction {
	if u.Action == "" {
		return UnitActionRestart
	}
	return u.Action
}

// EffectiveFilters normalizes a bare container/orchestrator Name into the
// exact-match filter {name: "^<name>$"}, per the data model invariant.
func (u *UpdateService) EffectiveFilters() map[string]string {
	if len(u.Filters) > 0 {
		return u.Filters
	}
	if u.Name != "" {
		return map[string]string{"name": "^" + u.Name + "$"}
	}
	return nil
}

// FilePermissions is applied to a promoted lineage only when present.
type FilePermissions struct {
	Mode          *uint32 `yaml:"mode,omitempty" json:"mode,omitempty"`
	DirectoryMode *uint32 `yaml:"directory_mode,omitempty" json:"directory_mode,omitempty"`
	Owner         string  `yaml:"owner,omitempty" json:"owner,omitempty"`
	Group         string  `yaml:"group,omitempty" json:"group,omitempty"`
}

// PushMode selects how the push engine drains the queue.
type PushMode string

const (
	PushModeSerial   PushMode = "serial"
	PushModeParallel PushMode = "parallel"
)

// RenewUnit is a recognized renewal-scheduler cadence unit.
type RenewUnit string

const (
	RenewUnitMinute    RenewUnit = "minute"
	RenewUnitDay       RenewUnit = "day"
	RenewUnitWeek      RenewUnit = "week"
	RenewUnitMonday    RenewUnit = "monday"
	RenewUnitTuesday   RenewUnit = "tuesday"
	RenewUnitWednesday RenewUnit = "wednesday"
	RenewUnitThursday  RenewUnit = "thursday"
	RenewUnitFriday    RenewUnit = "friday"
	RenewUnitSaturday  RenewUnit = "saturday"
	RenewUnitSunday    RenewUnit = "sunday"
)

// LogLevel mirrors the five levels certdeploy's logging split accepts.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)
