// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to control when and how connections open, and Conn to script
// inbound messages and inspect outbound audio.
//
// Example:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conn: conn}
//	sess := live.NewSession(d, live.Callbacks{...})
//	sess.Start(ctx, cfg)
//	conn.Push(live.Message{TurnComplete: true})
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
)

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock [live.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial. If nil, every Dial returns a fresh [Conn].
	Conn *Conn

	// DialErr, if non-nil, is returned from Dial.
	DialErr error

	// Gate, when non-nil, blocks Dial until it is closed or the dial context
	// ends.
	Gate chan struct{}

	// Configs records the configuration of every Dial call in order.
	Configs []live.SessionConfig

	// Conns records every connection handed out.
	Conns []*Conn
}

var _ live.Dialer = (*Dialer)(nil)

// Dial implements [live.Dialer].
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	d.mu.Lock()
	d.Configs = append(d.Configs, cfg)
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := d.Conn
	if c == nil {
		c = NewConn()
	}
	d.Conns = append(d.Conns, c)
	return c, nil
}

// DialCount returns how many times Dial was called.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Configs)
}

// LastConn returns the most recent connection handed out, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

type inbound struct {
	msg live.Message
	err error
}

// Conn is a mock [live.Conn]. Inbound events are scripted with Push, Fail and
// Hangup; outbound chunks are recorded.
type Conn struct {
	mu      sync.Mutex
	sent    []audio.EncodedChunk
	closed  bool
	closeCh chan struct{}
	in      chan inbound

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// CloseCount records how many times Close was called.
	CloseCount int

	// OnSend, if set, is called after each recorded chunk.
	OnSend func(audio.EncodedChunk)
}

var _ live.Conn = (*Conn)(nil)

// NewConn returns an open connection with room for 64 scripted events.
func NewConn() *Conn {
	return &Conn{
		closeCh: make(chan struct{}),
		in:      make(chan inbound, 64),
	}
}

// SendAudio implements [live.Conn].
func (c *Conn) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("mock: connection closed")
	}
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, chunk)
	hook := c.OnSend
	c.mu.Unlock()
	if hook != nil {
		hook(chunk)
	}
	return nil
}

// Receive implements [live.Conn].
func (c *Conn) Receive(ctx context.Context) (live.Message, error) {
	select {
	case ev := <-c.in:
		return ev.msg, ev.err
	case <-c.closeCh:
		return live.Message{}, errors.New("mock: connection closed")
	case <-ctx.Done():
		return live.Message{}, ctx.Err()
	}
}

// Close implements [live.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

// Push scripts an inbound message.
func (c *Conn) Push(msg live.Message) { c.in <- inbound{msg: msg} }

// Fail scripts a receive error.
func (c *Conn) Fail(err error) { c.in <- inbound{err: err} }

// Hangup scripts a clean remote close.
func (c *Conn) Hangup() { c.in <- inbound{err: io.EOF} }

// SentChunks returns a copy of every chunk written so far.
func (c *Conn) SentChunks() []audio.EncodedChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.EncodedChunk(nil), c.sent...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
