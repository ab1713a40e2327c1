// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import "fmt"

// SubstitutionError represents a failure resolving a ${task.path} reference
// while preparing a task's parameters for dispatch.
type SubstitutionError struct {
	Token  string
	Reason string
}

func (e *SubstitutionError) Error() string {
	return fmt.Sprintf("substitution failed for %q: %s", e.Token, e.Reason)
}

func (e *SubstitutionError) ErrorType() string { return "substitution" }
func (e *SubstitutionError) IsRetryable() bool { return false }

// DuplicateProtocol is returned when registering a protocol spec whose
// "{name}/{version}" key is already taken.
type DuplicateProtocol struct {
	ProtocolID string
}

func (e *DuplicateProtocol) Error() string {
	return fmt.Sprintf("protocol %s is already registered", e.ProtocolID)
}

func (e *DuplicateProtocol) ErrorType() string { return "duplicate_protocol" }
func (e *DuplicateProtocol) IsRetryable() bool { return false }

// InvalidParameter is returned when a task's params fail params_schema
// validation, naming the offending path within the params tree.
type InvalidParameter struct {
	Path   string
	Reason string
}

func (e *InvalidParameter) Error() string {
	return fmt.Sprintf("invalid parameter at %s: %s", e.Path, e.Reason)
}

func (e *InvalidParameter) ErrorType() string { return "invalid_parameter" }
func (e *InvalidParameter) IsRetryable() bool { return false }

// MethodNotSupported is returned when a protocol spec has no matching
// method, or a provider does not advertise support for a method it is
// registered against.
type MethodNotSupported struct {
	ProtocolID string
	Method     string
}

func (e *MethodNotSupported) Error() string {
	return fmt.Sprintf("method %s.%s is not supported", e.ProtocolID, e.Method)
}

func (e *MethodNotSupported) ErrorType() string { return "method_not_supported" }
func (e *MethodNotSupported) IsRetryable() bool { return false }

// ProviderNotFound is returned when no provider instance is registered for
// a protocol, or the load balancer's pool is empty.
type ProviderNotFound struct {
	ProtocolID string
}

func (e *ProviderNotFound) Error() string {
	return fmt.Sprintf("no provider registered for protocol %s", e.ProtocolID)
}

func (e *ProviderNotFound) ErrorType() string { return "provider_not_found" }
func (e *ProviderNotFound) IsRetryable() bool { return false }

// ProviderUnavailable is returned when every candidate provider instance is
// unhealthy or its circuit is open.
type ProviderUnavailable struct {
	ProtocolID string
	Reason     string
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("provider for %s unavailable: %s", e.ProtocolID, e.Reason)
}

func (e *ProviderUnavailable) ErrorType() string { return "provider_unavailable" }
func (e *ProviderUnavailable) IsRetryable() bool { return true }

// ProviderTimeout is returned when a provider call exceeds its configured
// per-call timeout.
type ProviderTimeout struct {
	ProviderID string
	Timeout    string
}

func (e *ProviderTimeout) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.ProviderID, e.Timeout)
}

func (e *ProviderTimeout) ErrorType() string { return "provider_timeout" }
func (e *ProviderTimeout) IsRetryable() bool { return true }

// CircuitOpen is returned by the breaker when a call is rejected without
// being attempted because the circuit for that provider instance is open.
type CircuitOpen struct {
	ProviderID string
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit open for provider %s", e.ProviderID)
}

func (e *CircuitOpen) ErrorType() string { return "circuit_open" }
func (e *CircuitOpen) IsRetryable() bool { return true }

// DependencyFailed is returned when a task cannot run because a task it
// depends on (directly or transitively, per error_strategy) failed.
type DependencyFailed struct {
	TaskID      string
	DependsOnID string
}

func (e *DependencyFailed) Error() string {
	return fmt.Sprintf("task %s cannot run: dependency %s failed", e.TaskID, e.DependsOnID)
}

func (e *DependencyFailed) ErrorType() string { return "dependency_failed" }
func (e *DependencyFailed) IsRetryable() bool { return false }

// Cancelled is returned for tasks that did not run, or were interrupted,
// because their workflow was cancelled.
type Cancelled struct {
	WorkflowID string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("workflow %s was cancelled", e.WorkflowID)
}

func (e *Cancelled) ErrorType() string { return "cancelled" }
func (e *Cancelled) IsRetryable() bool { return false }

// CrashRecovered marks a task that was RUNNING when the engine last
// crashed and has been marked FAILED by the startup recovery sweep.
type CrashRecovered struct {
	TaskID string
}

func (e *CrashRecovered) Error() string {
	return fmt.Sprintf("task %s was in-flight during a previous crash and was not resumed", e.TaskID)
}

func (e *CrashRecovered) ErrorType() string { return "crash_recovered" }
func (e *CrashRecovered) IsRetryable() bool { return false }

// PersistenceError wraps a failure in the storage backend.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func (e *PersistenceError) ErrorType() string { return "persistence" }
func (e *PersistenceError) IsRetryable() bool { return true }

// compile-time interface assertions, matching the teacher's convention of
// pinning implementations against their interfaces where both live in the
// same package.
var (
	_ ErrorClassifier = (*SubstitutionError)(nil)
	_ ErrorClassifier = (*DuplicateProtocol)(nil)
	_ ErrorClassifier = (*InvalidParameter)(nil)
	_ ErrorClassifier = (*MethodNotSupported)(nil)
	_ ErrorClassifier = (*ProviderNotFound)(nil)
	_ ErrorClassifier = (*ProviderUnavailable)(nil)
	_ ErrorClassifier = (*ProviderTimeout)(nil)
	_ ErrorClassifier = (*CircuitOpen)(nil)
	_ ErrorClassifier = (*DependencyFailed)(nil)
	_ ErrorClassifier = (*Cancelled)(nil)
	_ ErrorClassifier = (*CrashRecovered)(nil)
	_ ErrorClassifier = (*PersistenceError)(nil)
)
