// Package mpv implements the media engine contract on top of mpv's JSON-IPC
// protocol.
package mpv

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrNotRunning is returned once the mpv process or its socket is gone.
var ErrNotRunning = errors.New("mpv is not running")

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is either a command response or an asynchronous event.
type message struct {
	// Events
	Event     string `json:"event"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`

	// Responses
	RequestID int64  `json:"request_id"`
	Error     string `json:"error"`

	Data json.RawMessage `json:"data"`
}

func (m message) isEvent() bool {
	return m.Event != ""
}

type waiter struct {
	name string
	ch   chan message // nil for fire-and-forget commands
}

// client multiplexes commands and events over one IPC connection.
// Events are handed to onEvent in arrival order on a dedicated goroutine,
// so a slow handler never stalls command responses.
type client struct {
	conn    net.Conn
	onEvent func(message)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	waiting map[int64]waiter
	closed  bool
	done    chan struct{}

	queueMu     sync.Mutex
	queueCond   *sync.Cond
	queue       []message
	queueClosed bool
}

func newClient(conn net.Conn, onEvent func(message)) *client {
	c := &client{
		conn:    conn,
		onEvent: onEvent,
		waiting: make(map[int64]waiter),
		done:    make(chan struct{}),
	}
	c.queueCond = sync.NewCond(&c.queueMu)

	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// send issues a command without waiting for the response. Failures are
// logged when the response arrives.
func (c *client) send(args ...any) error {
	_, err := c.write(nil, args)
	return err
}

// call issues a command and waits for its response.
func (c *client) call(ctx context.Context, args ...any) (json.RawMessage, error) {
	ch := make(chan message, 1)
	id, err := c.write(ch, args)
	if err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotRunning
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, errors.Newf("mpv error: %s", resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *client) write(ch chan message, args []any) (int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrNotRunning
	}
	c.nextID++
	id := c.nextID
	name, _ := args[0].(string)
	c.waiting[id] = waiter{name: name, ch: ch}
	c.mu.Unlock()

	payload, err := json.Marshal(ipcCommand{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return 0, errors.Wrap(err, "marshal")
	}

	// mpv requires newline-delimited JSON
	c.writeMu.Lock()
	_, err = c.conn.Write(append(payload, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return 0, errors.Wrapf(err, "write %s", name)
	}
	return id, nil
}

func (c *client) forget(id int64) {
	c.mu.Lock()
	delete(c.waiting, id)
	c.mu.Unlock()
}

// readLoop continuously reads messages from the connection.
func (c *client) readLoop() {
	dec := json.NewDecoder(c.conn)
	for {
		var msg message
		if err := dec.Decode(&msg); err != nil {
			c.shutdown(err)
			return
		}

		if msg.isEvent() {
			c.enqueue(msg)
			continue
		}

		c.mu.Lock()
		w, ok := c.waiting[msg.RequestID]
		delete(c.waiting, msg.RequestID)
		c.mu.Unlock()

		switch {
		case !ok:
		case w.ch != nil:
			w.ch <- msg
		case msg.Error != "" && msg.Error != "success":
			zlog.Debug().Msgf("mpv: %s failed: %s", w.name, msg.Error)
		}
	}
}

// shutdown fails every waiter and stops event delivery after the queued
// events drained. An unexpected disconnect is reported as an end-file error.
func (c *client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.closeQueue()
		return
	}
	c.closed = true
	waiting := c.waiting
	c.waiting = make(map[int64]waiter)
	close(c.done)
	c.mu.Unlock()

	for _, w := range waiting {
		if w.ch != nil {
			close(w.ch)
		}
	}

	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		zlog.Warn().Msgf("mpv: ipc read error: %v", cause)
	}
	c.enqueue(message{Event: eventEndFile, Reason: reasonError, FileError: "mpv exited"})
	c.closeQueue()
}

// close tears the connection down. No further events are delivered.
func (c *client) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	waiting := c.waiting
	c.waiting = make(map[int64]waiter)
	close(c.done)
	c.mu.Unlock()

	for _, w := range waiting {
		if w.ch != nil {
			close(w.ch)
		}
	}

	c.queueMu.Lock()
	c.queue = nil
	c.queueMu.Unlock()
	c.closeQueue()

	return c.conn.Close()
}

func (c *client) enqueue(msg message) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.queueClosed {
		return
	}
	c.queue = append(c.queue, msg)
	c.queueCond.Signal()
}

func (c *client) closeQueue() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	c.queueClosed = true
	c.queueCond.Broadcast()
}

func (c *client) dispatchLoop() {
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.queueClosed {
			c.queueCond.Wait()
		}
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.onEvent(msg)
	}
}
