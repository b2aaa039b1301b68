// Package worker implements the agent side of a pycluster deployment: it
// dials the dispatcher, authenticates with a one-time password, executes
// dispatched tasks through registered handlers and emits heartbeats.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster/msg"
	"github.com/krishnasharma0101/pycluster/wire"
)

// Time allowed to write a message to the dispatcher.
const writeWait = 10 * time.Second

// HandlerFunc runs one task. Its return value is encoded as the task
// result; a non-nil error reports the task as failed with the error's
// message.
type HandlerFunc func(args json.RawMessage) (interface{}, error)

// AuthenticationError is returned by Run when the dispatcher rejects the
// handshake.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("worker: authentication failed: %s", e.Message)
}

// Config carries a worker's connection parameters.
type Config struct {
	// Addr is the dispatcher's host:port.
	Addr string

	// WorkerID identifies this worker. Must be unique per dispatcher.
	WorkerID string

	// OTP is the dispatcher's current session secret.
	OTP string

	// Key is the pre-shared encryption key used until the dispatcher
	// hands over the session key.
	Key []byte

	// HeartbeatInterval is the heartbeat send period.
	HeartbeatInterval time.Duration

	// DialTimeout bounds the initial connect.
	DialTimeout time.Duration

	// SendQueueLength is the outbound queue capacity.
	SendQueueLength int
}

// Worker connects to one dispatcher and executes tasks through handlers
// registered before Run. All writes to the connection happen in the Run
// loop, so queued results, heartbeats and the final disconnect never
// interleave on the wire.
type Worker struct {
	cfg      Config
	hostname string
	logger   ltsvlog.LogWriter

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	ch    *wire.Channel
	sendC chan msg.Message
	doneC chan struct{}
}

// New creates a worker. Handlers must be registered before Run.
func New(cfg Config, logger ltsvlog.LogWriter) *Worker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = 16
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Worker{
		cfg:      cfg,
		hostname: hostname,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler name to a function. Registering the same name
// again replaces the previous handler.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.mu.Lock()
	w.handlers[name] = fn
	w.mu.Unlock()
}

func (w *Worker) handler(name string) (HandlerFunc, bool) {
	w.mu.Lock()
	fn, ok := w.handlers[name]
	w.mu.Unlock()
	return fn, ok
}

// Run connects to the dispatcher, performs the handshake and serves tasks
// until ctx is cancelled, the dispatcher disconnects, or the connection
// fails. On cancellation it sends a best-effort disconnect message and
// closes the channel. There is no automatic reconnection.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ltsvlog.LV{L: "msg", V: "connecting to dispatcher"},
		ltsvlog.LV{L: "addr", V: w.cfg.Addr},
		ltsvlog.LV{L: "worker_id", V: w.cfg.WorkerID})
	nc, err := net.DialTimeout("tcp", w.cfg.Addr, w.cfg.DialTimeout)
	if err != nil {
		return err
	}
	ch, err := wire.NewChannel(nc, w.cfg.Key)
	if err != nil {
		nc.Close()
		return err
	}
	w.ch = ch
	defer ch.Close()

	if err := w.handshake(); err != nil {
		return err
	}
	w.logger.Info(ltsvlog.LV{L: "msg", V: "connected to dispatcher"},
		ltsvlog.LV{L: "addr", V: w.cfg.Addr},
		ltsvlog.LV{L: "worker_id", V: w.cfg.WorkerID})

	w.sendC = make(chan msg.Message, w.cfg.SendQueueLength)
	w.doneC = make(chan struct{})
	defer close(w.doneC)

	errC := make(chan error, 1)
	go func() {
		errC <- w.readPump()
	}()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-w.sendC:
			if err := w.write(m); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.write(&msg.Heartbeat{WorkerID: w.cfg.WorkerID}); err != nil {
				return err
			}
		case <-ctx.Done():
			w.logger.Info(ltsvlog.LV{L: "msg", V: "interrupt"},
				ltsvlog.LV{L: "worker_id", V: w.cfg.WorkerID})
			w.write(&msg.Disconnect{WorkerID: w.cfg.WorkerID})
			ch.Close()
			<-errC
			return ctx.Err()
		case err := <-errC:
			if err != nil && !errors.Is(err, wire.ErrConnectionClosed) {
				return err
			}
			return nil
		}
	}
}

func (w *Worker) handshake() error {
	w.ch.SetReadDeadline(time.Now().Add(w.cfg.DialTimeout))
	defer w.ch.SetReadDeadline(time.Time{})

	err := w.ch.Send(&msg.Auth{
		OTP:      w.cfg.OTP,
		WorkerID: w.cfg.WorkerID,
		Hostname: w.hostname,
	})
	if err != nil {
		return err
	}
	m, err := w.ch.Receive()
	if err != nil {
		return err
	}
	resp, ok := m.(*msg.AuthResponse)
	if !ok {
		return fmt.Errorf("worker: expected auth response, got %q", string(m.Kind()))
	}
	if !resp.Success {
		return &AuthenticationError{Message: resp.Message}
	}
	// Everything after the handshake runs under the dispatcher's session
	// key.
	if err := w.ch.Rekey(resp.EncryptionKey); err != nil {
		return err
	}
	return nil
}

func (w *Worker) write(m msg.Message) error {
	w.ch.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.ch.Send(m); err != nil {
		w.logger.Error(ltsvlog.LV{L: "msg", V: "write error"},
			ltsvlog.LV{L: "worker_id", V: w.cfg.WorkerID},
			ltsvlog.LV{L: "err", V: err})
		return err
	}
	return nil
}

func (w *Worker) readPump() error {
	for {
		m, err := w.ch.Receive()
		if err != nil {
			var unknown *msg.UnknownTypeError
			if errors.As(err, &unknown) {
				w.logger.Error(ltsvlog.LV{L: "msg", V: "ignoring unknown message type"},
					ltsvlog.LV{L: "message_type", V: string(unknown.Type)})
				continue
			}
			return err
		}
		switch m := m.(type) {
		case *msg.ExecuteTask:
			if w.logger.DebugEnabled() {
				w.logger.Debug(ltsvlog.LV{L: "msg", V: "received task"},
					ltsvlog.LV{L: "task_id", V: m.TaskID},
					ltsvlog.LV{L: "handler", V: m.Work.Handler})
			}
			go w.runTask(m)
		case *msg.HeartbeatResponse:
			// Heartbeat acknowledged.
		case *msg.Disconnect:
			w.logger.Info(ltsvlog.LV{L: "msg", V: "dispatcher requested disconnect"},
				ltsvlog.LV{L: "worker_id", V: w.cfg.WorkerID})
			return nil
		default:
			w.logger.Error(ltsvlog.LV{L: "msg", V: "ignoring unexpected message"},
				ltsvlog.LV{L: "message_type", V: string(m.Kind())})
		}
	}
}

func (w *Worker) runTask(t *msg.ExecuteTask) {
	res := &msg.TaskResult{TaskID: t.TaskID}
	fn, ok := w.handler(t.Work.Handler)
	if !ok {
		res.Result = encodeError(fmt.Sprintf("unknown handler: %s", t.Work.Handler))
	} else if value, err := fn(t.Work.Args); err != nil {
		res.Result = encodeError(err.Error())
	} else if encoded, err := json.Marshal(value); err != nil {
		res.Result = encodeError(err.Error())
	} else {
		res.Result = encoded
		res.Success = true
	}

	if !res.Success {
		w.logger.Error(ltsvlog.LV{L: "msg", V: "task failed"},
			ltsvlog.LV{L: "task_id", V: t.TaskID},
			ltsvlog.LV{L: "handler", V: t.Work.Handler},
			ltsvlog.LV{L: "result", V: string(res.Result)})
	}
	select {
	case w.sendC <- res:
	case <-w.doneC:
	}
}

func encodeError(message string) json.RawMessage {
	encoded, err := json.Marshal(message)
	if err != nil {
		return json.RawMessage(`"task failed"`)
	}
	return encoded
}
