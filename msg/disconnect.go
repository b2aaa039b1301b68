package msg

// Disconnect announces an orderly shutdown of either side.
type Disconnect struct {
	WorkerID string `json:"worker_id,omitempty"`
}

func (*Disconnect) Kind() Type { return TypeDisconnect }
