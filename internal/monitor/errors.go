// Copyright 2019 Sorint.lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors the control loop type-switches on, mirroring the
// MonitorError taxonomy in the reference implementation's monitor.h.
var (
	// ErrObjectInUse is returned by register_node when another standby is
	// concurrently registering; retry with backoff during registration only.
	ErrObjectInUse = errors.New("monitor: object in use")
	// ErrVersionMismatch means the monitor's installed extension version
	// differs from the version compiled into this keeper. Fatal to this
	// process; the supervisor is expected to restart it.
	ErrVersionMismatch = errors.New("monitor: extension version mismatch")
	// ErrIdentityMismatch means a node in this group already has a
	// different system identifier, or the local system identifier changed
	// underneath us. Requires operator action.
	ErrIdentityMismatch = errors.New("monitor: system identifier mismatch")
)

// pg error codes the reference implementation treats as retryable.
const (
	sqlstateSerializationFailure      = "40001"
	sqlstateStmtCompletionUnknown     = "40003"
	sqlstateDeadlockDetected          = "40P01"
	sqlstateInsufficientResources     = "53" // class prefix
	sqlstateProgramLimitExceeded      = "54" // class prefix
	sqlstateUniqueViolation           = "23505"
	sqlstateObjectInUse               = "55006"
	sqlstateObjectNotInPrerequisite   = "55000"
)

// Classify maps a raw error from a monitor call into the taxonomy the
// control loop acts on. A nil error classifies as nil. Unrecognized
// errors (including plain network failures dialing the monitor) are
// treated as transient-remote: retryable per the active policy.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case string(pqErr.Code) == sqlstateObjectInUse:
			return ErrObjectInUse
		case len(pqErr.Code) >= 2 && pqErr.Code[:2] == sqlstateInsufficientResources:
			return err // retryable, caller's retry policy handles it
		case len(pqErr.Code) >= 2 && pqErr.Code[:2] == sqlstateProgramLimitExceeded:
			return err
		case string(pqErr.Code) == sqlstateSerializationFailure,
			string(pqErr.Code) == sqlstateStmtCompletionUnknown,
			string(pqErr.Code) == sqlstateDeadlockDetected:
			return err
		}
	}

	return err
}

// IsRetryable reports whether err (already passed through Classify)
// should be retried by the active RetryPolicy rather than surfaced to
// the caller immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrIdentityMismatch) {
		return false
	}
	return true
}
