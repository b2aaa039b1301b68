package pycluster

import (
	"os"
	"strconv"
	"time"

	"github.com/hnakamur/ltsvlog"
)

// Config carries the tunables injected into a Hub. The zero value is not
// usable; start from DefaultConfig or ConfigFromEnv.
type Config struct {
	// ListenAddr is the dispatcher's listen address.
	ListenAddr string

	// OTPLength is the length of generated one-time passwords.
	OTPLength int

	// ChunkSize is the file transfer chunk size in bytes.
	ChunkSize int

	// ConnectTimeout bounds the admission handshake on a new connection.
	ConnectTimeout time.Duration

	// TaskTimeout bounds each ExecuteTask call.
	TaskTimeout time.Duration

	// HeartbeatInterval is both the worker's send period and the monitor's
	// tick period. A worker silent for more than twice this interval is
	// evicted.
	HeartbeatInterval time.Duration

	// MaxWorkers caps the registry size. Further registrations fail.
	MaxWorkers int

	// SendQueueLength is the per-connection outbound queue capacity.
	SendQueueLength int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8888",
		OTPLength:         8,
		ChunkSize:         8192,
		ConnectTimeout:    30 * time.Second,
		TaskTimeout:       300 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		MaxWorkers:        10,
		SendQueueLength:   16,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by PYCLUSTER_* environment
// variables. Unparsable values are logged and ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PYCLUSTER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	envInt("PYCLUSTER_OTP_LENGTH", &cfg.OTPLength)
	envInt("PYCLUSTER_CHUNK_SIZE", &cfg.ChunkSize)
	envInt("PYCLUSTER_MAX_WORKERS", &cfg.MaxWorkers)
	envInt("PYCLUSTER_SEND_QUEUE_LENGTH", &cfg.SendQueueLength)
	envDuration("PYCLUSTER_CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	envDuration("PYCLUSTER_TASK_TIMEOUT", &cfg.TaskTimeout)
	envDuration("PYCLUSTER_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	return cfg
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "invalid integer in environment, using default"},
			ltsvlog.LV{L: "name", V: name},
			ltsvlog.LV{L: "value", V: v})
		return
	}
	*dst = parsed
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "invalid duration in environment, using default"},
			ltsvlog.LV{L: "name", V: name},
			ltsvlog.LV{L: "value", V: v})
		return
	}
	*dst = parsed
}
