package msg

import "encoding/json"

// Task names a handler registered on the worker together with its encoded
// arguments. Work ships as a handler reference, never as code.
type Task struct {
	Handler string          `json:"handler"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ExecuteTask asks a worker to run a task.
type ExecuteTask struct {
	TaskID string `json:"task_id"`
	Work   Task   `json:"work"`
}

func (*ExecuteTask) Kind() Type { return TypeExecuteTask }

// TaskResult reports the outcome of an ExecuteTask. On success Result holds
// the handler's encoded return value; on failure it holds an encoded error
// description.
type TaskResult struct {
	TaskID  string          `json:"task_id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Success bool            `json:"success"`
}

func (*TaskResult) Kind() Type { return TypeTaskResult }
