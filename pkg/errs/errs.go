// Package errs defines certdeploy's stable, observable error kinds.
//
// Every error that can terminate an operation is tagged with a Kind so that
// logs carry a stable "ERROR:certdeploy-{server,client}:<Kind>:" prefix and
// so callers (the push engine, the client orchestrator) can decide whether to
// retry, abort, or continue without string-matching error text.
package errs

import "fmt"

// Kind is a stable, logged error category name. See spec §7 for the full
// policy table.
type Kind string

const (
	KindConfigError       Kind = "ConfigError"
	KindQueueCorrupt      Kind = "QueueCorrupt"
	KindHostKeyMismatch   Kind = "HostKeyMismatch"
	KindSFTPTransient     Kind = "SFTPTransientError"
	KindRenewError        Kind = "RenewError"
	KindContainerNotFound Kind = "ContainerNotFound"
	KindServiceNotFound   Kind = "ServiceNotFound"
	KindUnitError         Kind = "UnitError"
	KindScriptError       Kind = "ScriptError"
	KindPromotionError    Kind = "PromotionError"
	KindGeneric           Kind = "CertDeployError"
)

// Error is certdeploy's typed wrapper. Retryable errors are always
// SFTPTransientError; every other kind is fatal at some scope.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the engine should retry this (job, client) pair.
// Only SFTPTransientError is retryable; HostKeyMismatch is explicitly
// excluded per the Open Question decision in SPEC_FULL.md.
func (e *Error) Retryable() bool { return e.Kind == KindSFTPTransient }

// New builds a typed error with no cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a typed error carrying cause, the way the pack wraps errors
// with fmt.Errorf("...: %w", err) throughout, but tagged with a stable Kind.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindGeneric for errors
// that were never tagged (e.g. a bare fmt.Errorf from deep inside a driver).
func KindOf(err error) Kind {
	var e *Error
	if ok := As(err, &e); ok {
		return e.Kind
	}
	return KindGeneric
}

// As walks err's single-error Unwrap chain for the first *Error, a narrow
// stand-in for errors.As kept here so callers only need to import this
// package when switching on Kind.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
