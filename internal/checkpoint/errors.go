package checkpoint

import "fmt"

type corruptCheckpointError struct {
	path   string
	reason string
}

func (e *corruptCheckpointError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %s", e.path, e.reason)
}

// ErrCorruptCheckpoint marks a checkpoint file that cannot be trusted.
func ErrCorruptCheckpoint(path, reason string) error {
	return &corruptCheckpointError{path: path, reason: reason}
}

// IsCorruptCheckpoint reports whether err marks an unreadable or
// inconsistent checkpoint file.
func IsCorruptCheckpoint(err error) bool {
	_, ok := err.(*corruptCheckpointError)
	return ok
}

type unknownTaskError struct {
	taskID string
}

func (e *unknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %s", e.taskID)
}

// ErrUnknownTask marks an operation on a task id that was never registered.
func ErrUnknownTask(taskID string) error {
	return &unknownTaskError{taskID: taskID}
}

// IsUnknownTask reports whether err marks an unregistered task id.
func IsUnknownTask(err error) bool {
	_, ok := err.(*unknownTaskError)
	return ok
}
