package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Conn is one end of a control channel. A read loop decodes incoming
// messages; messages with a registered handler are dispatched to it, all
// others are buffered until a WaitFor call asks for their tag.
type Conn struct {
	rwc io.ReadWriteCloser
	enc *Encoder
	dec *Decoder

	writeLock sync.Mutex

	mu       sync.Mutex
	inbox    []Message
	notify   chan struct{}
	handlers map[Tag]func(Message)

	done      chan struct{}
	err       error
	closeOnce sync.Once

	log *zap.Logger
}

// NewConn wraps rwc and starts reading from it.
func NewConn(rwc io.ReadWriteCloser, log *zap.Logger) *Conn {
	c := &Conn{
		rwc:      rwc,
		enc:      NewEncoder(rwc),
		dec:      NewDecoder(rwc),
		notify:   make(chan struct{}),
		handlers: make(map[Tag]func(Message)),
		done:     make(chan struct{}),
		log:      log.Named("ipc"),
	}

	go c.readLoop()

	return c
}

// Send encodes body with the given tag and writes it to the peer.
func (c *Conn) Send(tag Tag, body any) error {
	msg, err := NewMessage(tag, body)
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	c.log.Debug("sent message", zap.String("tag", string(tag)))

	return nil
}

// WaitFor blocks until a message with one of the given tags arrives and
// returns it. Buffered messages are considered first, in arrival order.
// Messages with other tags stay buffered. A closed connection fails the
// wait with ErrClosed once no matching message is left.
func (c *Conn) WaitFor(ctx context.Context, tags ...Tag) (Message, error) {
	for {
		c.mu.Lock()

		for i, msg := range c.inbox {
			if slices.Contains(tags, msg.Tag) {
				c.inbox = slices.Delete(c.inbox, i, i+1)
				c.mu.Unlock()
				return msg, nil
			}
		}

		notify := c.notify
		c.mu.Unlock()

		select {
		case <-notify:
		case <-c.done:
			// drain anything that arrived before the close
			if msg, ok := c.take(tags); ok {
				return msg, nil
			}
			return Message{}, c.closedErr()
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Handle registers fn for all messages with the given tag. Buffered
// messages with that tag are handed to fn right away. Handlers run on the
// read loop and must not block on the same connection's reads.
func (c *Conn) Handle(tag Tag, fn func(Message)) {
	c.mu.Lock()
	c.handlers[tag] = fn

	var pending []Message
	c.inbox = slices.DeleteFunc(c.inbox, func(m Message) bool {
		if m.Tag == tag {
			pending = append(pending, m)
			return true
		}
		return false
	})
	c.mu.Unlock()

	for _, m := range pending {
		fn(m)
	}
}

// Done is closed once the connection is closed or the peer disconnected.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection was closed, or nil.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and the underlying transport.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return c.rwc.Close()
}

func (c *Conn) readLoop() {
	for {
		var msg Message
		if err := c.dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				c.log.Debug("peer disconnected")
			} else {
				c.log.Warn("failed to read message", zap.Error(err))
			}
			c.shutdown(err)
			return
		}

		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Message) {
	c.mu.Lock()

	if fn, ok := c.handlers[msg.Tag]; ok {
		c.mu.Unlock()
		fn(msg)
		return
	}

	c.inbox = append(c.inbox, msg)
	close(c.notify)
	c.notify = make(chan struct{})

	c.mu.Unlock()
}

func (c *Conn) take(tags []Tag) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, msg := range c.inbox {
		if slices.Contains(tags, msg.Tag) {
			c.inbox = slices.Delete(c.inbox, i, i+1)
			return msg, true
		}
	}

	return Message{}, false
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Conn) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, c.err)
}

// Join combines a read and a write stream into one transport, as used for
// the pair of pipes inherited by a worker process.
func Join(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &joined{ReadCloser: r, w: w}
}

type joined struct {
	io.ReadCloser
	w io.WriteCloser
}

func (j *joined) Write(p []byte) (int, error) {
	return j.w.Write(p)
}

func (j *joined) Close() error {
	werr := j.w.Close()
	rerr := j.ReadCloser.Close()
	return errors.Join(werr, rerr)
}

// Pipe returns two connected in-memory transports.
func Pipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	return net.Pipe()
}
