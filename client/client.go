// Package client provides a typed call interface on top of a dispatcher
// handle. A Client binds call sites to one Hub explicitly; there is no
// process-global dispatcher.
package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/context"

	"github.com/google/uuid"
	"github.com/krishnasharma0101/pycluster"
	"github.com/krishnasharma0101/pycluster/msg"
)

// Client issues named-handler calls through a Hub.
type Client struct {
	hub      *pycluster.Hub
	workerID string
}

// New creates a client dispatching to any available worker.
func New(hub *pycluster.Hub) *Client {
	return &Client{hub: hub}
}

// On returns a client bound to a specific worker.
func (c *Client) On(workerID string) *Client {
	return &Client{hub: c.hub, workerID: workerID}
}

// Call runs the named handler on a worker. args is JSON-encoded as the
// handler's argument payload; the worker's result is decoded into result
// unless result is nil. Call blocks until the task resolves, fails, or
// times out.
func (c *Client) Call(ctx context.Context, handler string, args, result interface{}) error {
	var encoded json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return err
		}
		encoded = b
	}

	taskID := newTaskID(handler)
	raw, err := c.hub.ExecuteTask(ctx, taskID, msg.Task{Handler: handler, Args: encoded}, c.workerID)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

func newTaskID(handler string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", handler, suffix)
}
