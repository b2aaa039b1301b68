package msg

// Heartbeat is the periodic liveness signal from a worker.
type Heartbeat struct {
	WorkerID string `json:"worker_id"`
}

func (*Heartbeat) Kind() Type { return TypeHeartbeat }

// HeartbeatResponse acknowledges a Heartbeat.
type HeartbeatResponse struct{}

func (*HeartbeatResponse) Kind() Type { return TypeHeartbeatResponse }
