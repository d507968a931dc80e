package quest

import "errors"

// Error kinds surfaced by engine operations. Handlers map these to HTTP
// status codes with errors.Is; callers always get a human-readable message
// wrapped around the sentinel.
var (
	// ErrValidation marks malformed input: empty title, non-positive
	// reward, unparseable deadline, missing required photo.
	ErrValidation = errors.New("validation failed")

	// ErrPermission marks an operation the actor's role forbids. Checked
	// before any write is attempted.
	ErrPermission = errors.New("permission denied")

	// ErrConflict marks a conditional write that lost: the task's state
	// changed between read and write. Terminal for the attempt; the caller
	// needs a fresh user action.
	ErrConflict = errors.New("state conflict")

	// ErrNotFound marks a referenced house, task, or member that no longer
	// exists (or is outside the actor's house).
	ErrNotFound = errors.New("not found")

	// ErrStorage marks a failed photo-proof upload.
	ErrStorage = errors.New("storage failed")
)
