package config

import (
	"github.com/cuemby/certdeploy/pkg/types"
)

// ServerConfig is the fully resolved, validated configuration for
// certdeploy-server.
type ServerConfig struct {
	PrivateKeyPath    string `yaml:"ca"`
	QueueDir          string `yaml:"queue_dir"`
	PushMode          types.PushMode `yaml:"push_mode"`
	PushRetries       int    `yaml:"push_retries"`
	PushRetryInterval int    `yaml:"push_retry_interval"` // seconds
	PushInterval      int    `yaml:"push_interval"`       // seconds
	JoinTimeout       *int   `yaml:"join_timeout"`        // seconds, nil = unbounded
	FailFast          bool   `yaml:"fail_fast"`

	RenewExec  string           `yaml:"renew_exec"`
	RenewArgs  []string         `yaml:"renew_args"`
	RenewEvery int              `yaml:"renew_every"`
	RenewUnit  types.RenewUnit  `yaml:"renew_unit"`
	RenewAt    string           `yaml:"renew_at"` // "HH:MM", empty = unset

	ClientConfigs    []*types.ClientDescriptor `yaml:"client_configs"`
	ClientConfigsDir string                    `yaml:"client_configs_dir"`

	LogFilename     string         `yaml:"log_filename"`
	LogLevel        types.LogLevel `yaml:"log_level"`
	SFTPLogFilename string         `yaml:"sftp_log_filename"`
	SFTPLogLevel    types.LogLevel `yaml:"sftp_log_level"`

	// MetricsListenAddress, when non-empty, mounts the Prometheus exposition
	// handler (C13) on this "host:port" address. Empty disables it entirely.
	MetricsListenAddress string `yaml:"metrics_listen_address"`
}

// SFTPDConfig configures the client's embedded SFTP server (C7).
type SFTPDConfig struct {
	ListenAddress     string `yaml:"listen_address"`
	ListenPort        int    `yaml:"listen_port"`
	Username          string `yaml:"username"`
	ServerPubkey      string `yaml:"server_pubkey"`      // pinned pubkey of the pushing server
	PrivateKeyPath    string `yaml:"private_key_path"`   // this client's host key
	BannerTimeout     int    `yaml:"sftp_banner_timeout"` // seconds
}

// ClientConfig is the fully resolved, validated configuration for
// certdeploy-client.
type ClientConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`

	UpdateServices []*types.UpdateService `yaml:"update_services"`

	ScriptTimeout  *int `yaml:"script_timeout"`
	InitTimeout    *int `yaml:"init_timeout"`
	DockerTimeout  *int `yaml:"docker_timeout"`

	SystemdExec   string `yaml:"systemd_exec"`
	RCServiceExec string `yaml:"rc_service_exec"`
	DockerURL     string `yaml:"docker_url"`

	FilePermissions *types.FilePermissions `yaml:"file_permissions"`

	SFTPD SFTPDConfig `yaml:"sftpd"`

	FailFast bool `yaml:"fail_fast"`

	JoinTimeout *int `yaml:"join_timeout"`

	LogFilename     string         `yaml:"log_filename"`
	LogLevel        types.LogLevel `yaml:"log_level"`
	SFTPLogFilename string         `yaml:"sftp_log_filename"`
	SFTPLogLevel    types.LogLevel `yaml:"sftp_log_level"`

	// MetricsListenAddress, when non-empty, mounts the Prometheus exposition
	// handler (C13) on this "host:port" address. Empty disables it entirely.
	MetricsListenAddress string `yaml:"metrics_listen_address"`
}

// DefaultServerConfig returns the built-in defaults for the server, the
// lowest tier of the resolution precedence.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		QueueDir:          "/var/run/certdeploy",
		PushMode:          types.PushModeSerial,
		PushRetries:       1,
		PushRetryInterval: 30,
		PushInterval:      0,
		FailFast:          false,
		RenewArgs:         []string{"renew"},
		RenewEvery:        1,
		RenewUnit:         types.RenewUnitDay,
		LogFilename:       "/dev/stdout",
		LogLevel:          types.LogLevelInfo,
		SFTPLogFilename:   "/dev/stdout",
		SFTPLogLevel:      types.LogLevelInfo,
	}
}

// DefaultClientConfig returns the built-in defaults for the client.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		SystemdExec:   "systemctl",
		RCServiceExec: "service",
		LogFilename:   "/dev/stdout",
		LogLevel:      types.LogLevelInfo,
		SFTPLogFilename: "/dev/stdout",
		SFTPLogLevel:    types.LogLevelInfo,
		SFTPD: SFTPDConfig{
			ListenAddress: "*",
			ListenPort:    22,
			Username:      "certdeploy",
		},
	}
}

// DefaultClientDescriptor returns the built-in defaults applied to every
// client_configs entry and client_configs_dir file before its own YAML
// fields are decoded, per §3's data model.
func DefaultClientDescriptor() *types.ClientDescriptor {
	return &types.ClientDescriptor{
		Port:           22,
		Username:       "certdeploy",
		RemotePath:     "/var/cache/certdeploy",
		NeedsFullchain: true,
		NeedsPrivkey:   true,
	}
}
