package pycluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster/msg"
	"github.com/krishnasharma0101/pycluster/wire"
)

// Hub is the dispatcher. It accepts worker connections, admits them with
// the one-time password handshake, tracks their liveness and dispatches
// tasks to them. The worker registry and the pending-result map are owned
// by the Run goroutine; connection loops and ExecuteTask callers reach them
// only through the hub's channels.
type Hub struct {
	cfg    Config
	key    []byte
	logger ltsvlog.LogWriter

	otpMu sync.RWMutex
	otp   string

	// Registered workers, keyed by worker ID. Owned by Run.
	workers map[string]*workerState

	// Pending task results, keyed by task ID. Owned by Run.
	pending map[string]*pendingResult

	registerC   chan registerRequest
	unregisterC chan *Conn
	heartbeatC  chan *Conn
	taskResultC chan workerTaskResult
	dispatchC   chan dispatchRequest
	expireC     chan string
	snapshotC   chan chan []WorkerInfo

	// Closed when Run returns. Every channel send into the hub selects
	// against it so connection loops and ExecuteTask callers cannot block
	// on a hub that is no longer serving.
	doneC chan struct{}

	// Counts registered connection loops. Run waits for it on shutdown.
	connWG sync.WaitGroup
}

// WorkerInfo is a point-in-time copy of one registry entry.
type WorkerInfo struct {
	ID            string
	Hostname      string
	Active        bool
	CurrentTask   string
	LastHeartbeat time.Time
}

type workerState struct {
	conn          *Conn
	hostname      string
	lastHeartbeat time.Time
	active        bool
	currentTask   string
}

type registerRequest struct {
	conn    *Conn
	resultC chan bool
}

type workerTaskResult struct {
	conn   *Conn
	result *msg.TaskResult
}

type dispatchRequest struct {
	taskID   string
	work     msg.Task
	target   string
	outcomeC chan taskOutcome
}

type taskOutcome struct {
	result json.RawMessage
	err    error
}

type pendingResult struct {
	taskID   string
	workerID string
	outcomeC chan taskOutcome
}

// NewHub creates a hub with the given session key. A fresh one-time
// password is generated for the session.
func NewHub(cfg Config, key []byte, logger ltsvlog.LogWriter) (*Hub, error) {
	if len(key) != wire.KeySize {
		return nil, errors.New("pycluster: session key must be 32 bytes")
	}
	otp, err := wire.GenerateOTP(cfg.OTPLength)
	if err != nil {
		return nil, err
	}
	return &Hub{
		cfg:         cfg,
		key:         key,
		logger:      logger,
		otp:         otp,
		workers:     make(map[string]*workerState),
		pending:     make(map[string]*pendingResult),
		registerC:   make(chan registerRequest),
		unregisterC: make(chan *Conn),
		heartbeatC:  make(chan *Conn),
		taskResultC: make(chan workerTaskResult),
		dispatchC:   make(chan dispatchRequest),
		expireC:     make(chan string),
		snapshotC:   make(chan chan []WorkerInfo),
		doneC:       make(chan struct{}),
	}, nil
}

// OTP returns the current session secret.
func (h *Hub) OTP() string {
	h.otpMu.RLock()
	defer h.otpMu.RUnlock()
	return h.otp
}

// RegenerateOTP replaces the session secret. Already-registered workers are
// unaffected; only future handshakes check the new value.
func (h *Hub) RegenerateOTP() (string, error) {
	otp, err := wire.GenerateOTP(h.cfg.OTPLength)
	if err != nil {
		return "", err
	}
	h.otpMu.Lock()
	h.otp = otp
	h.otpMu.Unlock()
	h.logger.Info(ltsvlog.LV{L: "msg", V: "regenerated one-time password"})
	return otp, nil
}

// Run owns the registry and the pending set, and runs the heartbeat
// monitor. It must be running for registration, dispatch and snapshots to
// make progress. When ctx is cancelled it drops every connected worker,
// waits for their connection loops to finish and then returns.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case req := <-h.registerC:
			req.resultC <- h.registerWorker(req.conn)
		case c := <-h.unregisterC:
			h.unregisterWorker(c)
		case c := <-h.heartbeatC:
			h.handleHeartbeat(c)
		case res := <-h.taskResultC:
			h.handleTaskResult(res)
		case req := <-h.dispatchC:
			h.dispatch(req)
		case taskID := <-h.expireC:
			// Timeout expiry on the caller's side. Removing an
			// already-resolved entry is a no-op.
			delete(h.pending, taskID)
		case replyC := <-h.snapshotC:
			replyC <- h.snapshot()
		case <-ticker.C:
			h.evictSilentWorkers()
		case <-ctx.Done():
			close(h.doneC)
			for workerID, st := range h.workers {
				delete(h.workers, workerID)
				close(st.conn.sendC)
			}
			h.connWG.Wait()
			return nil
		}
	}
}

func (h *Hub) registerWorker(c *Conn) bool {
	if _, exists := h.workers[c.workerID]; exists {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "worker with same ID already registered"},
			ltsvlog.LV{L: "worker_id", V: c.workerID})
		return false
	}
	if len(h.workers) >= h.cfg.MaxWorkers {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "worker registry full"},
			ltsvlog.LV{L: "worker_id", V: c.workerID},
			ltsvlog.LV{L: "max_workers", V: h.cfg.MaxWorkers})
		return false
	}
	h.connWG.Add(1)
	h.workers[c.workerID] = &workerState{
		conn:          c,
		hostname:      c.hostname,
		lastHeartbeat: time.Now(),
		active:        true,
	}
	h.logger.Info(ltsvlog.LV{L: "msg", V: "registered worker"},
		ltsvlog.LV{L: "worker_id", V: c.workerID},
		ltsvlog.LV{L: "hostname", V: c.hostname},
		ltsvlog.LV{L: "worker_ids", V: h.workerIDs()})
	return true
}

func (h *Hub) unregisterWorker(c *Conn) {
	st, ok := h.workers[c.workerID]
	if !ok || st.conn != c {
		// Already evicted or replaced; nothing to do.
		return
	}
	delete(h.workers, c.workerID)
	close(c.sendC)
	h.logger.Info(ltsvlog.LV{L: "msg", V: "unregistered worker"},
		ltsvlog.LV{L: "worker_id", V: c.workerID},
		ltsvlog.LV{L: "worker_ids", V: h.workerIDs()})
}

func (h *Hub) handleHeartbeat(c *Conn) {
	st, ok := h.workers[c.workerID]
	if !ok || st.conn != c {
		// Heartbeat from a worker that was already evicted. It must
		// re-authenticate to rejoin.
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "dropping heartbeat from unknown worker"},
				ltsvlog.LV{L: "worker_id", V: c.workerID})
		}
		return
	}
	st.lastHeartbeat = time.Now()
	select {
	case c.sendC <- &msg.HeartbeatResponse{}:
	default:
	}
}

func (h *Hub) handleTaskResult(res workerTaskResult) {
	taskID := res.result.TaskID
	if st, ok := h.workers[res.conn.workerID]; ok && st.conn == res.conn {
		st.currentTask = ""
	}
	p, ok := h.pending[taskID]
	if !ok {
		h.logger.Info(ltsvlog.LV{L: "msg", V: "result for unknown or expired task"},
			ltsvlog.LV{L: "task_id", V: taskID},
			ltsvlog.LV{L: "worker_id", V: res.conn.workerID})
		return
	}
	delete(h.pending, taskID)
	if res.result.Success {
		p.outcomeC <- taskOutcome{result: res.result.Result}
		return
	}
	p.outcomeC <- taskOutcome{err: &TaskExecutionError{
		TaskID:  taskID,
		Message: resultErrorMessage(res.result.Result),
	}}
}

func (h *Hub) dispatch(req dispatchRequest) {
	if _, exists := h.pending[req.taskID]; exists {
		req.outcomeC <- taskOutcome{err: fmt.Errorf("pycluster: task %q already pending", req.taskID)}
		return
	}

	var workerID string
	var st *workerState
	if req.target != "" {
		var ok bool
		st, ok = h.workers[req.target]
		if !ok || !st.active {
			req.outcomeC <- taskOutcome{err: &WorkerNotFoundError{WorkerID: req.target}}
			return
		}
		workerID = req.target
	} else {
		for id, candidate := range h.workers {
			if candidate.active && candidate.currentTask == "" {
				workerID, st = id, candidate
				break
			}
		}
		if st == nil {
			req.outcomeC <- taskOutcome{err: ErrNoAvailableWorker}
			return
		}
	}

	st.currentTask = req.taskID
	select {
	case st.conn.sendC <- &msg.ExecuteTask{TaskID: req.taskID, Work: req.work}:
		h.pending[req.taskID] = &pendingResult{
			taskID:   req.taskID,
			workerID: workerID,
			outcomeC: req.outcomeC,
		}
		h.logger.Info(ltsvlog.LV{L: "msg", V: "dispatched task"},
			ltsvlog.LV{L: "task_id", V: req.taskID},
			ltsvlog.LV{L: "handler", V: req.work.Handler},
			ltsvlog.LV{L: "worker_id", V: workerID})
	default:
		// Send queue full: the worker is not keeping up. Drop it, like
		// a lost connection.
		delete(h.workers, workerID)
		close(st.conn.sendC)
		h.logger.Error(ltsvlog.LV{L: "msg", V: "worker send queue full, dropping worker"},
			ltsvlog.LV{L: "worker_id", V: workerID})
		req.outcomeC <- taskOutcome{err: wire.ErrConnectionClosed}
	}
}

func (h *Hub) evictSilentWorkers() {
	cutoff := 2 * h.cfg.HeartbeatInterval
	now := time.Now()
	for workerID, st := range h.workers {
		if now.Sub(st.lastHeartbeat) <= cutoff {
			continue
		}
		st.active = false
		delete(h.workers, workerID)
		close(st.conn.sendC)
		h.logger.Error(ltsvlog.LV{L: "msg", V: "evicted silent worker"},
			ltsvlog.LV{L: "worker_id", V: workerID},
			ltsvlog.LV{L: "last_heartbeat", V: st.lastHeartbeat.Format(time.RFC3339)})
	}
}

func (h *Hub) snapshot() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(h.workers))
	for workerID, st := range h.workers {
		infos = append(infos, WorkerInfo{
			ID:            workerID,
			Hostname:      st.hostname,
			Active:        st.active,
			CurrentTask:   st.currentTask,
			LastHeartbeat: st.lastHeartbeat,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (h *Hub) workerIDs() []string {
	workerIDs := make([]string, 0, len(h.workers))
	for workerID := range h.workers {
		workerIDs = append(workerIDs, workerID)
	}
	sort.Strings(workerIDs)
	return workerIDs
}

// Workers returns a point-in-time copy of the registry, sorted by worker
// ID. It is never a live view. After the hub has shut down it returns nil.
func (h *Hub) Workers() []WorkerInfo {
	replyC := make(chan []WorkerInfo, 1)
	select {
	case h.snapshotC <- replyC:
		return <-replyC
	case <-h.doneC:
		return nil
	}
}

// ExecuteTask sends work to one worker and waits for its result. If
// targetWorker is empty the first active idle worker is chosen; with no
// such worker the call fails immediately with ErrNoAvailableWorker. A
// named target must be registered and active or the call fails with
// *WorkerNotFoundError.
//
// The wait is bounded by the configured task timeout. On expiry the
// pending entry is dropped and *TaskTimeoutError returned; the worker is
// not told to cancel and keeps its current-task slot until it reports a
// result of its own accord. A named target is not checked for idleness:
// dispatching to a busy worker overwrites its current-task slot, and the
// earlier task's result then clears the newer task's slot.
//
// When the hub shuts down while the call is in flight, ExecuteTask fails
// with ErrHubClosed.
func (h *Hub) ExecuteTask(ctx context.Context, taskID string, work msg.Task, targetWorker string) (json.RawMessage, error) {
	outcomeC := make(chan taskOutcome, 1)
	select {
	case h.dispatchC <- dispatchRequest{taskID: taskID, work: work, target: targetWorker, outcomeC: outcomeC}:
	case <-h.doneC:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(h.cfg.TaskTimeout)
	defer timer.Stop()
	select {
	case out := <-outcomeC:
		return out.result, out.err
	case <-timer.C:
		h.expire(taskID)
		return nil, &TaskTimeoutError{TaskID: taskID}
	case <-h.doneC:
		return nil, ErrHubClosed
	case <-ctx.Done():
		h.expire(taskID)
		return nil, ctx.Err()
	}
}

func (h *Hub) expire(taskID string) {
	select {
	case h.expireC <- taskID:
	case <-h.doneC:
	}
}

// Serve accepts worker connections on ln until ctx is cancelled. Each
// connection runs the admission handshake and then its own message loop.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go h.handleConn(conn)
	}
}

// ListenAndServe listens on addr and calls Serve.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.logger.Info(ltsvlog.LV{L: "msg", V: "listening"},
		ltsvlog.LV{L: "addr", V: ln.Addr().String()})
	return h.Serve(ctx, ln)
}

func (h *Hub) handleConn(nc net.Conn) {
	ch, err := wire.NewChannel(nc, h.key)
	if err != nil {
		h.logger.ErrorWithStack(ltsvlog.LV{L: "msg", V: "channel setup error"},
			ltsvlog.LV{L: "err", V: err})
		nc.Close()
		return
	}

	nc.SetDeadline(time.Now().Add(h.cfg.ConnectTimeout))
	m, err := ch.Receive()
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "handshake read error"},
			ltsvlog.LV{L: "remote_addr", V: nc.RemoteAddr().String()},
			ltsvlog.LV{L: "err", V: err})
		ch.Close()
		return
	}
	auth, ok := m.(*msg.Auth)
	if !ok {
		h.rejectConn(ch, nc, "expected auth message")
		return
	}
	if auth.OTP != h.OTP() {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "invalid one-time password"},
			ltsvlog.LV{L: "worker_id", V: auth.WorkerID},
			ltsvlog.LV{L: "hostname", V: auth.Hostname},
			ltsvlog.LV{L: "remote_addr", V: nc.RemoteAddr().String()})
		h.rejectConn(ch, nc, "invalid one-time password")
		return
	}

	err = ch.Send(&msg.AuthResponse{
		Success:       true,
		Message:       "authentication successful",
		EncryptionKey: msg.Bytes(h.key),
	})
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "handshake write error"},
			ltsvlog.LV{L: "worker_id", V: auth.WorkerID},
			ltsvlog.LV{L: "err", V: err})
		ch.Close()
		return
	}
	nc.SetDeadline(time.Time{})

	c := newConn(h, ch, auth.WorkerID, auth.Hostname, h.cfg.SendQueueLength)
	if !c.register() {
		ch.Close()
		return
	}
	c.run()
}

func (h *Hub) rejectConn(ch *wire.Channel, nc net.Conn, reason string) {
	err := ch.Send(&msg.AuthResponse{Success: false, Message: reason})
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to send rejection"},
			ltsvlog.LV{L: "remote_addr", V: nc.RemoteAddr().String()},
			ltsvlog.LV{L: "err", V: err})
	}
	ch.Close()
}

func resultErrorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
