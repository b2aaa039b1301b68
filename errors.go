package pycluster

import (
	"errors"
	"fmt"
)

// ErrNoAvailableWorker is returned by ExecuteTask when no registered worker
// is both active and idle at dispatch time.
var ErrNoAvailableWorker = errors.New("pycluster: no available worker")

// ErrHubClosed is returned by ExecuteTask when the hub shut down before the
// task could be dispatched or resolved.
var ErrHubClosed = errors.New("pycluster: hub is shut down")

// WorkerNotFoundError is returned by ExecuteTask when the explicitly
// targeted worker is not registered or not active.
type WorkerNotFoundError struct {
	WorkerID string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("pycluster: worker %q not found", e.WorkerID)
}

// TaskTimeoutError is returned by ExecuteTask when no result arrived within
// the configured task timeout.
type TaskTimeoutError struct {
	TaskID string
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("pycluster: task %q timed out", e.TaskID)
}

// TaskExecutionError is returned by ExecuteTask when the worker reported a
// failure. Message carries the worker's error description.
type TaskExecutionError struct {
	TaskID  string
	Message string
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("pycluster: task %q failed: %s", e.TaskID, e.Message)
}
