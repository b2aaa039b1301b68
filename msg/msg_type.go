package msg

import "fmt"

// Type discriminates the message kinds on the wire. It is carried in the
// "type" field of every encoded message.
type Type string

const (
	TypeAuth              Type = "auth"
	TypeAuthResponse      Type = "auth_response"
	TypeHeartbeat         Type = "heartbeat"
	TypeHeartbeatResponse Type = "heartbeat_response"
	TypeExecuteTask       Type = "execute_task"
	TypeTaskResult        Type = "task_result"
	TypeDisconnect        Type = "disconnect"
	TypeFileTransferStart Type = "file_transfer_start"
	TypeFileTransferEnd   Type = "file_transfer_end"
)

// Message is one variant of the closed message set.
type Message interface {
	Kind() Type
}

// UnknownTypeError is returned by Unmarshal when the "type" field names no
// known message kind.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("msg: unknown message type %q", string(e.Type))
}
