/*
Package config resolves and validates certdeploy's typed configuration
record (C12), and decodes the YAML configuration file (C14).

Precedence, highest to lowest: command-line flag → environment variable →
configuration file → built-in default. LoadServerConfig and LoadClientConfig
overlay the configuration file on the built-in defaults and validate the
result; ApplyLogOverrides then layers the flag/environment values of the
logging fields on top (the binaries resolve flag versus environment
variable before calling it). Invalid
values raise a ConfigError with a uniform "<field> must be <type-phrase>"
message; unknown YAML keys are also a ConfigError (decoded with
yaml.Decoder.KnownFields(true), the way a strict config loader rejects
typos instead of silently ignoring them).
*/
package config
