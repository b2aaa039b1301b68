package pycluster

import (
	"errors"
	"time"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster/msg"
	"github.com/krishnasharma0101/pycluster/wire"
)

// Time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// Conn is a middleman between one authenticated worker connection and the
// hub. Only the hub's Run goroutine may send into sendC or close it.
type Conn struct {
	hub *Hub

	ch *wire.Channel

	// Buffered channel of outbound messages.
	sendC chan msg.Message

	workerID string
	hostname string
}

func newConn(hub *Hub, ch *wire.Channel, workerID, hostname string, sendChannelLength int) *Conn {
	return &Conn{
		hub:      hub,
		ch:       ch,
		sendC:    make(chan msg.Message, sendChannelLength),
		workerID: workerID,
		hostname: hostname,
	}
}

// register adds the connection to the hub's registry. It reports false when
// the worker ID is taken, the registry is full or the hub has shut down.
func (c *Conn) register() bool {
	resultC := make(chan bool)
	select {
	case c.hub.registerC <- registerRequest{conn: c, resultC: resultC}:
		return <-resultC
	case <-c.hub.doneC:
		return false
	}
}

func (c *Conn) run() {
	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the connection to the hub. Every handoff
// selects against the hub's doneC so the pump can exit once Run has
// returned and nobody drains the channels anymore.
func (c *Conn) readPump() {
	defer func() {
		select {
		case c.hub.unregisterC <- c:
		case <-c.hub.doneC:
		}
		c.ch.Close()
		c.hub.connWG.Done()
	}()
	for {
		m, err := c.ch.Receive()
		if err != nil {
			var unknown *msg.UnknownTypeError
			if errors.As(err, &unknown) {
				c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "ignoring unknown message type"},
					ltsvlog.LV{L: "worker_id", V: c.workerID},
					ltsvlog.LV{L: "message_type", V: string(unknown.Type)})
				continue
			}
			if !errors.Is(err, wire.ErrConnectionClosed) {
				c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "read error"},
					ltsvlog.LV{L: "worker_id", V: c.workerID},
					ltsvlog.LV{L: "err", V: err})
			}
			return
		}
		switch m := m.(type) {
		case *msg.Heartbeat:
			select {
			case c.hub.heartbeatC <- c:
			case <-c.hub.doneC:
				return
			}
		case *msg.TaskResult:
			select {
			case c.hub.taskResultC <- workerTaskResult{conn: c, result: m}:
			case <-c.hub.doneC:
				return
			}
		case *msg.Disconnect:
			if c.hub.logger.DebugEnabled() {
				c.hub.logger.Debug(ltsvlog.LV{L: "msg", V: "worker requested disconnect"},
					ltsvlog.LV{L: "worker_id", V: c.workerID})
			}
			return
		default:
			c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "ignoring unexpected message"},
				ltsvlog.LV{L: "worker_id", V: c.workerID},
				ltsvlog.LV{L: "message_type", V: string(m.Kind())})
		}
	}
}

// writePump pumps messages from the hub to the connection. When the hub
// closes sendC the pump announces the disconnect best-effort and closes the
// channel, which in turn unblocks readPump.
func (c *Conn) writePump() {
	for m := range c.sendC {
		c.ch.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ch.Send(m); err != nil {
			c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "write error"},
				ltsvlog.LV{L: "worker_id", V: c.workerID},
				ltsvlog.LV{L: "err", V: err})
			c.ch.Close()
			return
		}
	}
	c.ch.SetWriteDeadline(time.Now().Add(writeWait))
	c.ch.Send(&msg.Disconnect{})
	c.ch.Close()
}
