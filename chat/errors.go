package chat

import (
	"errors"
	"fmt"

	"github.com/tashilapathum/hazle-backend/assistants"
)

var (
	// ErrAccessDenied means the caller asserted a thread or assistant that
	// does not belong to them.
	ErrAccessDenied = errors.New("chat: access denied")

	// ErrThreadNotFound means no thread record exists for the asserted id.
	ErrThreadNotFound = errors.New("chat: thread not found")

	// ErrConcurrentRun means the provider rejected a run because the thread
	// already has one in flight. Callers may retry later; this backend never
	// retries on its own.
	ErrConcurrentRun = errors.New("chat: thread already has an active run")

	// ErrRunTimeout means the run did not reach a terminal state within the
	// allowed wait. The remote run may still finish on its own.
	ErrRunTimeout = errors.New("chat: timed out waiting for run to complete")
)

// ValidationError rejects caller input before any remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RemoteProvisioningError means creating an external assistant or thread
// failed upstream. Not retried automatically.
type RemoteProvisioningError struct {
	Resource string
	Err      error
}

func (e *RemoteProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed: %v", e.Resource, e.Err)
}

func (e *RemoteProvisioningError) Unwrap() error { return e.Err }

// UpstreamError wraps a provider call failure during an orchestration step,
// keeping thread/run context for reconciliation.
type UpstreamError struct {
	Op       string
	ThreadID string
	RunID    string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s (thread %s, run %s): %v", e.Op, e.ThreadID, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s (thread %s): %v", e.Op, e.ThreadID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RunIncompleteError means the run reached a terminal state other than
// completed. No placeholder text is synthesized for these.
type RunIncompleteError struct {
	Status assistants.RunStatus
}

func (e *RunIncompleteError) Error() string {
	return fmt.Sprintf("assistant run finished with status %s", e.Status)
}
