package msg

import "encoding/json"

// Marshal encodes a message as a JSON object with its discriminator in the
// "type" field. Key order is canonical (sorted), so identical messages
// encode identically.
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}

// Unmarshal decodes one message, dispatching on the "type" field. A value
// outside the known set yields *UnknownTypeError.
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var m Message
	switch head.Type {
	case TypeAuth:
		m = &Auth{}
	case TypeAuthResponse:
		m = &AuthResponse{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeHeartbeatResponse:
		m = &HeartbeatResponse{}
	case TypeExecuteTask:
		m = &ExecuteTask{}
	case TypeTaskResult:
		m = &TaskResult{}
	case TypeDisconnect:
		m = &Disconnect{}
	case TypeFileTransferStart:
		m = &FileTransferStart{}
	case TypeFileTransferEnd:
		m = &FileTransferEnd{}
	default:
		return nil, &UnknownTypeError{Type: head.Type}
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
