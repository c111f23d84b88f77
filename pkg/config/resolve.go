package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/types"
)

// LoadServerConfig reads and validates the server configuration file at
// path, starting from DefaultServerConfig and overlaying whatever the file
// sets. An empty path returns the defaults unmodified.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, validateServerConfig(cfg)
	}
	if err := decodeStrict(path, cfg); err != nil {
		return nil, err
	}
	// Re-decode inline client_configs entries over DefaultClientDescriptor so
	// they get the same defaults as client_configs_dir entries (the strict
	// pass above already rejected unknown keys).
	var inline struct {
		ClientConfigs []yaml.Node `yaml:"client_configs"`
	}
	if raw, err := os.ReadFile(path); err == nil && yaml.Unmarshal(raw, &inline) == nil && len(inline.ClientConfigs) == len(cfg.ClientConfigs) {
		for i := range inline.ClientConfigs {
			desc := DefaultClientDescriptor()
			if err := inline.ClientConfigs[i].Decode(desc); err != nil {
				return nil, errs.Wrap(errs.KindConfigError, fmt.Sprintf("cannot parse config file %s", path), err)
			}
			cfg.ClientConfigs[i] = desc
		}
	}
	if err := loadClientConfigsDir(cfg); err != nil {
		return nil, err
	}
	if err := validateServerConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClientConfig reads and validates the client configuration file at
// path, starting from DefaultClientConfig.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		return cfg, validateClientConfig(cfg)
	}
	if err := decodeStrict(path, cfg); err != nil {
		return nil, err
	}
	if err := validateClientConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyLogOverrides layers the CLI/environment tier of the precedence chain
// (flag, then environment variable) on top of an already-loaded config. Call
// sites pass "" for anything not explicitly set at that tier, so lower
// tiers are left untouched.
func ApplyLogOverrides(logFilename, logLevel, sftpLogFilename, sftpLogLevel string, setFilename, setLevel, setSFTPFilename, setSFTPLevel func(string)) {
	if logFilename != "" {
		setFilename(logFilename)
	}
	if logLevel != "" {
		setLevel(logLevel)
	}
	if sftpLogFilename != "" {
		setSFTPFilename(sftpLogFilename)
	}
	if sftpLogLevel != "" {
		setSFTPLevel(sftpLogLevel)
	}
}

// decodeStrict YAML-decodes path over out, rejecting any key out doesn't
// declare, so a typo in the config file fails loudly instead of being
// silently ignored.
func decodeStrict(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindConfigError, fmt.Sprintf("cannot open config file %s", path), err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errs.Wrap(errs.KindConfigError, fmt.Sprintf("cannot parse config file %s", path), err)
	}
	return nil
}

// loadClientConfigsDir merges descriptors found under ClientConfigsDir (one
// YAML document per file) into cfg.ClientConfigs, applying
// DefaultClientDescriptor to each before its own fields are decoded.
func loadClientConfigsDir(cfg *ServerConfig) error {
	if cfg.ClientConfigsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(cfg.ClientConfigsDir)
	if err != nil {
		return errs.Wrap(errs.KindConfigError, "cannot read client_configs_dir", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		desc := DefaultClientDescriptor()
		full := cfg.ClientConfigsDir + string(os.PathSeparator) + entry.Name()
		if err := decodeStrict(full, desc); err != nil {
			return err
		}
		cfg.ClientConfigs = append(cfg.ClientConfigs, desc)
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.QueueDir == "" {
		return fieldErr("queue_dir", "a non-empty path")
	}
	if cfg.PushMode != types.PushModeSerial && cfg.PushMode != types.PushModeParallel {
		return fieldErr("push_mode", `"serial" or "parallel"`)
	}
	if cfg.PushRetries < 0 {
		return fieldErr("push_retries", "zero or a positive integer")
	}
	if cfg.PushRetryInterval < 0 {
		return fieldErr("push_retry_interval", "zero or a positive number of seconds")
	}
	if cfg.PushInterval < 0 {
		return fieldErr("push_interval", "zero or a positive number of seconds")
	}
	if cfg.JoinTimeout != nil && *cfg.JoinTimeout < 0 {
		return fieldErr("join_timeout", "a positive number of seconds or null")
	}
	if !isRecognizedRenewUnit(cfg.RenewUnit) {
		return fieldErr("renew_unit", "one of minute, day, week, or a weekday name")
	}
	if cfg.RenewEvery <= 0 {
		return fieldErr("renew_every", "a positive integer")
	}
	if cfg.RenewAt != "" && !isHHMM(cfg.RenewAt) {
		return fieldErr("renew_at", `an "HH:MM" time`)
	}
	if !isRecognizedLogLevel(cfg.LogLevel) {
		return fieldErr("log_level", "one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	if !isRecognizedLogLevel(cfg.SFTPLogLevel) {
		return fieldErr("sftp_log_level", "one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	for _, client := range cfg.ClientConfigs {
		if client.Address == "" {
			return fieldErr("client_configs[].address", "a non-empty host or IP")
		}
		if client.Pubkey == "" {
			return fieldErr("client_configs[].pubkey", "a pinned public key or path to one")
		}
		if len(client.Domains) == 0 {
			return fieldErr("client_configs[].domains", "a non-empty list")
		}
	}
	return nil
}

func validateClientConfig(cfg *ClientConfig) error {
	if cfg.Source == "" {
		return fieldErr("source", "a non-empty path")
	}
	if cfg.Destination == "" {
		return fieldErr("destination", "a non-empty path")
	}
	if !isRecognizedLogLevel(cfg.LogLevel) {
		return fieldErr("log_level", "one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	if !isRecognizedLogLevel(cfg.SFTPLogLevel) {
		return fieldErr("sftp_log_level", "one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	if cfg.SFTPD.ListenPort <= 0 || cfg.SFTPD.ListenPort > 65535 {
		return fieldErr("sftpd.listen_port", "an integer between 1 and 65535")
	}
	if cfg.SFTPD.Username == "" {
		return fieldErr("sftpd.username", "a non-empty value")
	}
	if cfg.SFTPD.ServerPubkey == "" {
		return fieldErr("sftpd.server_pubkey", "a pinned public key or path to one")
	}
	for _, svc := range cfg.UpdateServices {
		switch svc.Type {
		case types.UpdateKindContainer, types.UpdateKindOrchestrator:
			if svc.Name == "" && len(svc.Filters) == 0 {
				return fieldErr("update_services[].name", "a container name, or filters must be set")
			}
			if svc.Name != "" && len(svc.Filters) > 0 {
				return fieldErr("update_services[].name", "empty when filters are set")
			}
		case types.UpdateKindInitUnit, types.UpdateKindRCUnit:
			if svc.Name == "" {
				return fieldErr("update_services[].name", "a non-empty unit name")
			}
			if svc.EffectiveAction() != types.UnitActionRestart && svc.EffectiveAction() != types.UnitActionReload {
				return fieldErr("update_services[].action", `"restart" or "reload"`)
			}
		case types.UpdateKindScript:
			if svc.Name == "" {
				return fieldErr("update_services[].name", "a non-empty script path")
			}
		default:
			return fieldErr("update_services[].type", "a recognized update kind")
		}
	}
	return nil
}

func fieldErr(field, wantPhrase string) error {
	return errs.New(errs.KindConfigError, fmt.Sprintf("%s must be %s", field, wantPhrase))
}

func isRecognizedLogLevel(l types.LogLevel) bool {
	switch l {
	case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarning, types.LogLevelError, types.LogLevelCritical:
		return true
	}
	return false
}

func isRecognizedRenewUnit(u types.RenewUnit) bool {
	switch u {
	case types.RenewUnitMinute, types.RenewUnitDay, types.RenewUnitWeek,
		types.RenewUnitMonday, types.RenewUnitTuesday, types.RenewUnitWednesday, types.RenewUnitThursday,
		types.RenewUnitFriday, types.RenewUnitSaturday, types.RenewUnitSunday:
		return true
	}
	return false
}

func isHHMM(v string) bool {
	if len(v) != 5 || v[2] != ':' {
		return false
	}
	for i, c := range v {
		if i == 2 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	hh := int(v[0]-'0')*10 + int(v[1]-'0')
	mm := int(v[3]-'0')*10 + int(v[4]-'0')
	return hh < 24 && mm < 60
}
