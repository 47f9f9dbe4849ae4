// Package errs defines the error kinds surfaced by the sync core.
package errs

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid or missing configuration value.
// It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// AgentUnavailableError means the library host application is not running.
// Fatal for any command that needs the library.
type AgentUnavailableError struct {
	Cause error
}

func (e *AgentUnavailableError) Error() string {
	if e.Cause == nil {
		return "library agent unavailable"
	}
	return fmt.Sprintf("library agent unavailable: %v", e.Cause)
}

func (e *AgentUnavailableError) Unwrap() error { return e.Cause }

// AgentError means a script run returned an unexpected status.
// Callers treat the result as unknown rather than failing the batch.
type AgentError struct {
	Script string
	Cause  error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent script %s: %v", e.Script, e.Cause)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// APIKind classifies an external API failure.
type APIKind int

const (
	// APITransient failures are retried with backoff.
	APITransient APIKind = iota
	// APIQuota means the source's budget is exhausted; callers move on
	// to the next source.
	APIQuota
	// APIMalformed means the response could not be interpreted; treated
	// as a null result for the affected source.
	APIMalformed
)

func (k APIKind) String() string {
	switch k {
	case APITransient:
		return "transient"
	case APIQuota:
		return "quota"
	case APIMalformed:
		return "malformed"
	}
	return "unknown"
}

// APIError reports a failure from one external metadata source.
type APIError struct {
	Source string
	Kind   APIKind
	Cause  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API (%s): %v", e.Source, e.Kind, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

// CacheCorruptionError means a cache file failed to parse. The owner logs
// a warning and starts fresh.
type CacheCorruptionError struct {
	Path  string
	Cause error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache file %s: %v", e.Path, e.Cause)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Cause }

// SnapshotStaleError means the stored snapshot cannot be trusted and a
// fresh scan is required.
type SnapshotStaleError struct {
	Reason string
}

func (e *SnapshotStaleError) Error() string {
	return fmt.Sprintf("snapshot stale: %s", e.Reason)
}

// ValidationError reports a malformed input value. Fatal for the affected
// item only.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsAgentUnavailable reports whether err is an AgentUnavailableError.
func IsAgentUnavailable(err error) bool {
	var target *AgentUnavailableError
	return errors.As(err, &target)
}

// IsAgentError reports whether err is an AgentError.
func IsAgentError(err error) bool {
	var target *AgentError
	return errors.As(err, &target)
}

// IsQuota reports whether err is an APIError with the quota kind.
func IsQuota(err error) bool {
	var target *APIError
	return errors.As(err, &target) && target.Kind == APIQuota
}

// IsTransient reports whether err is an APIError with the transient kind.
func IsTransient(err error) bool {
	var target *APIError
	return errors.As(err, &target) && target.Kind == APITransient
}

// IsMalformed reports whether err is an APIError with the malformed kind.
func IsMalformed(err error) bool {
	var target *APIError
	return errors.As(err, &target) && target.Kind == APIMalformed
}

// IsCacheCorruption reports whether err is a CacheCorruptionError.
func IsCacheCorruption(err error) bool {
	var target *CacheCorruptionError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
