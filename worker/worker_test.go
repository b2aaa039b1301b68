package worker

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/context"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster/msg"
	"github.com/krishnasharma0101/pycluster/wire"
)

func testLogger() ltsvlog.LogWriter {
	return ltsvlog.NewLTSVLogger(io.Discard, false)
}

// fakeDispatcher accepts one worker connection and performs the server side
// of the handshake so tests can script the dispatcher's behavior.
type fakeDispatcher struct {
	ln  net.Listener
	key []byte
	otp string

	authC chan *msg.Auth
	chC   chan *wire.Channel
}

func newFakeDispatcher(t *testing.T) *fakeDispatcher {
	t.Helper()
	key, err := wire.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	d := &fakeDispatcher{
		ln:    ln,
		key:   key,
		otp:   "ABCD1234",
		authC: make(chan *msg.Auth, 1),
		chC:   make(chan *wire.Channel, 1),
	}
	go d.acceptOne(t)
	return d
}

func (d *fakeDispatcher) acceptOne(t *testing.T) {
	nc, err := d.ln.Accept()
	if err != nil {
		return
	}
	ch, err := wire.NewChannel(nc, d.key)
	if err != nil {
		t.Error(err)
		return
	}
	m, err := ch.Receive()
	if err != nil {
		t.Error(err)
		return
	}
	auth, ok := m.(*msg.Auth)
	if !ok {
		t.Errorf("unexpected first message type. got=%T, want=*msg.Auth", m)
		return
	}
	d.authC <- auth
	if auth.OTP != d.otp {
		ch.Send(&msg.AuthResponse{Success: false, Message: "invalid one-time password"})
		ch.Close()
		return
	}
	err = ch.Send(&msg.AuthResponse{
		Success:       true,
		Message:       "authentication successful",
		EncryptionKey: msg.Bytes(d.key),
	})
	if err != nil {
		t.Error(err)
		return
	}
	d.chC <- ch
}

func startTestWorker(t *testing.T, d *fakeDispatcher, handlers map[string]HandlerFunc) *wire.Channel {
	t.Helper()
	w := New(Config{
		Addr:              d.ln.Addr().String(),
		WorkerID:          "worker1",
		OTP:               d.otp,
		Key:               d.key,
		HeartbeatInterval: 50 * time.Millisecond,
	}, testLogger())
	for name, fn := range handlers {
		w.Register(name, fn)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	select {
	case ch := <-d.chC:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not complete the handshake")
		return nil
	}
}

// receiveTaskResult drains heartbeats until a task result arrives.
func receiveTaskResult(t *testing.T, ch *wire.Channel) *msg.TaskResult {
	t.Helper()
	ch.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer ch.SetReadDeadline(time.Time{})
	for {
		m, err := ch.Receive()
		if err != nil {
			t.Fatal(err)
		}
		switch m := m.(type) {
		case *msg.TaskResult:
			return m
		case *msg.Heartbeat:
		default:
			t.Fatalf("unexpected message type. got=%T", m)
		}
	}
}

func TestWorkerSendsAuthFields(t *testing.T) {
	d := newFakeDispatcher(t)
	startTestWorker(t, d, nil)

	auth := <-d.authC
	if auth.OTP != "ABCD1234" {
		t.Errorf("unexpected OTP. got=%q, want=%q", auth.OTP, "ABCD1234")
	}
	if auth.WorkerID != "worker1" {
		t.Errorf("unexpected worker ID. got=%q, want=%q", auth.WorkerID, "worker1")
	}
	if auth.Hostname == "" {
		t.Error("auth message should carry the hostname")
	}
}

func TestWorkerExecutesRegisteredHandler(t *testing.T) {
	d := newFakeDispatcher(t)
	ch := startTestWorker(t, d, map[string]HandlerFunc{
		"add": func(args json.RawMessage) (interface{}, error) {
			var in struct{ A, B int }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in.A + in.B, nil
		},
	})

	err := ch.Send(&msg.ExecuteTask{
		TaskID: "add-1",
		Work:   msg.Task{Handler: "add", Args: json.RawMessage(`{"A":2,"B":3}`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := receiveTaskResult(t, ch)
	if res.TaskID != "add-1" {
		t.Errorf("unexpected task ID. got=%q, want=%q", res.TaskID, "add-1")
	}
	if !res.Success {
		t.Fatalf("task should have succeeded, result=%s", res.Result)
	}
	var sum int
	if err := json.Unmarshal(res.Result, &sum); err != nil {
		t.Fatal(err)
	}
	if sum != 5 {
		t.Errorf("unexpected sum. got=%d, want=%d", sum, 5)
	}
}

func TestWorkerReportsUnknownHandler(t *testing.T) {
	d := newFakeDispatcher(t)
	ch := startTestWorker(t, d, nil)

	err := ch.Send(&msg.ExecuteTask{
		TaskID: "task1",
		Work:   msg.Task{Handler: "nosuchhandler"},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := receiveTaskResult(t, ch)
	if res.Success {
		t.Fatal("task for an unknown handler should fail")
	}
	var message string
	if err := json.Unmarshal(res.Result, &message); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(message, "nosuchhandler") {
		t.Errorf("error message should name the handler, got=%q", message)
	}
}

func TestWorkerReportsHandlerError(t *testing.T) {
	d := newFakeDispatcher(t)
	ch := startTestWorker(t, d, map[string]HandlerFunc{
		"boom": func(args json.RawMessage) (interface{}, error) {
			return nil, errors.New("kaboom")
		},
	})

	err := ch.Send(&msg.ExecuteTask{TaskID: "boom-1", Work: msg.Task{Handler: "boom"}})
	if err != nil {
		t.Fatal(err)
	}

	res := receiveTaskResult(t, ch)
	if res.Success {
		t.Fatal("failing handler should report failure")
	}
	var message string
	if err := json.Unmarshal(res.Result, &message); err != nil {
		t.Fatal(err)
	}
	if message != "kaboom" {
		t.Errorf("unexpected message. got=%q, want=%q", message, "kaboom")
	}
}

func TestWorkerEmitsHeartbeats(t *testing.T) {
	d := newFakeDispatcher(t)
	ch := startTestWorker(t, d, nil)

	ch.SetReadDeadline(time.Now().Add(2 * time.Second))
	m, err := ch.Receive()
	if err != nil {
		t.Fatal(err)
	}
	hb, ok := m.(*msg.Heartbeat)
	if !ok {
		t.Fatalf("unexpected message type. got=%T, want=*msg.Heartbeat", m)
	}
	if hb.WorkerID != "worker1" {
		t.Errorf("unexpected worker ID. got=%q, want=%q", hb.WorkerID, "worker1")
	}
}

func TestWorkerAuthFailure(t *testing.T) {
	d := newFakeDispatcher(t)
	w := New(Config{
		Addr:              d.ln.Addr().String(),
		WorkerID:          "worker1",
		OTP:               "WRONG000",
		Key:               d.key,
		HeartbeatInterval: 50 * time.Millisecond,
	}, testLogger())

	err := w.Run(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("unexpected error. got=%v, want=*AuthenticationError", err)
	}
}

func TestWorkerStopsOnDispatcherDisconnect(t *testing.T) {
	d := newFakeDispatcher(t)
	ch := startTestWorker(t, d, nil)

	if err := ch.Send(&msg.Disconnect{}); err != nil {
		t.Fatal(err)
	}
	// The worker's read pump should stop; its final frames (if any) and
	// the connection teardown follow.
	ch.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := ch.Receive(); err != nil {
			if !errors.Is(err, wire.ErrConnectionClosed) {
				t.Logf("connection ended with: %v", err)
			}
			return
		}
	}
}
