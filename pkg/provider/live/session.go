package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelearn/pkg/audio"
)

// State is the lifecycle position of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Callbacks receive session events. Any field may be nil. Callbacks for one
// session never run concurrently, and none run after [Session.Close].
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	// OnError fires at most once, with a *TransportError, before OnClose.
	OnError func(error)
	// OnClose fires when the session ends by remote close or failure.
	OnClose func()
}

var errRemoteClosed = errors.New("live: remote closed")

// Session is one realtime voice interaction.
//
// Lifecycle: Idle -> Connecting -> Open -> Closed, or through Failed to
// Closed on error. Audio sent in Idle or Connecting is queued and flushed in
// order once the connection opens.
type Session struct {
	id     string
	dialer Dialer
	cb     Callbacks
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	queue      []audio.EncodedChunk
	userClosed bool
	ctx        context.Context
	cancel     context.CancelFunc

	wake     chan struct{}
	cbMu     sync.Mutex
	errOnce  sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession returns an idle session that will dial through d.
func NewSession(d Dialer, cb Callbacks) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:     id,
		dialer: d,
		cb:     cb,
		log:    slog.With("session", id),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session is closed and its goroutines have exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins connecting and returns immediately. ctx bounds the dial only;
// cancelling it after the session opened has no effect.
func (s *Session) Start(ctx context.Context, cfg SessionConfig) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateFailed, StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.log.Debug("live: connecting", "modality", cfg.Modality())
	go s.run(ctx, cfg)
	return nil
}

// Send queues chunk for transmission. It never blocks on the network.
func (s *Session) Send(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	if s.state == StateFailed || s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued chunks not yet written.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close ends the session from any state. It is idempotent, safe while Start
// or Send are in flight, and no callback fires afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.userClosed || s.state == StateClosed {
		s.userClosed = true
		s.mu.Unlock()
		return nil
	}
	s.userClosed = true
	started := s.state != StateIdle
	s.state = StateClosed
	s.queue = nil
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if !started {
		s.finish()
	}
	s.log.Debug("live: closed by caller")
	return err
}

func (s *Session) run(ctx context.Context, cfg SessionConfig) {
	defer s.finish()

	dialCtx, cancelDial := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancelDial)
	conn, err := s.dialer.Dial(dialCtx, cfg)
	stop()
	cancelDial()
	if err != nil {
		if s.closedByUser() {
			return
		}
		s.fail(&TransportError{Op: "dial", Err: err})
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()
	s.log.Info("live: session open")
	s.emit(func() {
		if s.cb.OnOpen != nil {
			s.cb.OnOpen()
		}
	})

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.writeLoop(gctx, conn) })
	g.Go(func() error { return s.readLoop(gctx, conn) })
	err = g.Wait()

	switch {
	case s.closedByUser():
	case errors.Is(err, errRemoteClosed) || err == nil:
		s.mu.Lock()
		s.state = StateClosed
		s.queue = nil
		s.mu.Unlock()
		s.cancel()
		_ = conn.Close()
		s.log.Info("live: closed by remote")
		s.emit(func() {
			if s.cb.OnClose != nil {
				s.cb.OnClose()
			}
		})
	default:
		s.fail(err)
	}
}

func (s *Session) writeLoop(ctx context.Context, conn Conn) error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
			}
			continue
		}
		chunk := s.queue[0]
		s.mu.Unlock()

		if err := conn.SendAudio(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "send", Err: err}
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			s.queue[0] = audio.EncodedChunk{}
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errRemoteClosed
			}
			return &TransportError{Op: "receive", Err: err}
		}
		s.emit(func() {
			if s.cb.OnMessage != nil {
				s.cb.OnMessage(msg)
			}
		})
	}
}

// fail moves the session through Failed to Closed, reporting err once.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.queue = nil
	conn := s.conn
	s.mu.Unlock()

	s.log.Warn("live: session failed", "err", err)
	s.errOnce.Do(func() {
		s.emit(func() {
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
		})
	})

	s.mu.Lock()
	if s.state == StateFailed {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.emit(func() {
		if s.cb.OnClose != nil {
			s.cb.OnClose()
		}
	})
}

// emit runs fn under the callback lock unless the caller closed the session.
func (s *Session) emit(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.closedByUser() {
		return
	}
	fn()
}

func (s *Session) closedByUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userClosed
}

func (s *Session) finish() { s.doneOnce.Do(func() { close(s.done) }) }
