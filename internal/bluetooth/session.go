package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

type sessionMode int

const (
	modeIdle sessionMode = iota
	modeNotify
	modePoll
)

// Session owns one duplex link to a peripheral: a write characteristic for
// outbound frames and a read characteristic delivering inbound ones either
// by notification or by polling. A Session is used once; open a new one to
// reconnect.
type Session struct {
	id        string
	transport Transport
	desc      ServiceDescriptor
	log       *logrus.Entry

	mu        sync.Mutex
	state     SessionState
	link      Link
	writeChar Characteristic
	readChar  Characteristic
	mode      sessionMode
	err       error

	writeSlot chan struct{}
	done      chan struct{}
}

// NewSession creates a disconnected session for the given service layout.
func NewSession(t Transport, desc ServiceDescriptor, log logrus.FieldLogger) *Session {
	id := ulid.Make().String()
	return &Session{
		id:        id,
		transport: t,
		desc:      desc,
		log:       log.WithField("session", id),
		writeSlot: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the connected peripheral address, empty before Open.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.Address()
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session closed: ErrLinkDropped when the peripheral
// went away, the resolution error when Open failed, nil after Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open connects to address and resolves the service and both
// characteristics. Resolution failures close the session for good.
func (s *Session) Open(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.state = StateConnecting
	s.mu.Unlock()

	log := s.log.WithField("address", address)
	log.Info("connecting")

	link, err := s.transport.Connect(ctx, address)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", address, err)
		s.finish(err)
		return err
	}

	svc, err := link.Service(s.desc.ServiceUUID)
	if err != nil {
		return s.abort(link, fmt.Errorf("resolve service %s: %w", s.desc.ServiceUUID, err))
	}
	wc, err := svc.Characteristic(s.desc.WriteUUID)
	if err != nil {
		return s.abort(link, fmt.Errorf("resolve write characteristic %s: %w", s.desc.WriteUUID, err))
	}
	rc, err := svc.Characteristic(s.desc.ReadUUID)
	if err != nil {
		return s.abort(link, fmt.Errorf("resolve read characteristic %s: %w", s.desc.ReadUUID, err))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while resolving.
		s.mu.Unlock()
		_ = link.Disconnect()
		return ErrNotConnected
	}
	s.link = link
	s.writeChar = wc
	s.readChar = rc
	s.state = StateConnected
	s.mu.Unlock()

	go s.watch(link)
	log.Info("connected")
	return nil
}

func (s *Session) abort(link Link, err error) error {
	if derr := link.Disconnect(); derr != nil {
		s.log.WithError(derr).Warn("disconnect after failed resolution")
	}
	s.finish(err)
	return err
}

func (s *Session) watch(link Link) {
	select {
	case <-s.done:
	case <-link.Done():
		s.mu.Lock()
		closing := s.state == StateClosing || s.state == StateClosed
		s.mu.Unlock()
		if !closing {
			s.log.Warn("link dropped")
			s.finish(ErrLinkDropped)
		}
	}
}

// finish moves the session to StateClosed exactly once.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.err = err
	close(s.done)
}

// Close disconnects the link. Closing an already closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return nil
	case StateConnected:
		s.state = StateClosing
		link := s.link
		s.mu.Unlock()

		s.log.Info("disconnecting")
		err := link.Disconnect()
		s.finish(nil)
		if err != nil {
			return fmt.Errorf("disconnect: %w", err)
		}
		return nil
	default:
		// Disconnected, or Open still running; Open will observe the closed state.
		s.mu.Unlock()
		s.finish(nil)
		return nil
	}
}

// RegisterNotificationHandler subscribes the read characteristic. fn gets
// the raw notification bytes on the transport's delivery goroutine and must
// not block.
func (s *Session) RegisterNotificationHandler(fn func([]byte)) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	switch s.mode {
	case modeNotify:
		s.mu.Unlock()
		return ErrHandlerRegistered
	case modePoll:
		s.mu.Unlock()
		return ErrModeConflict
	}
	s.mode = modeNotify
	rc := s.readChar
	s.mu.Unlock()

	if err := rc.Subscribe(fn); err != nil {
		s.mu.Lock()
		s.mode = modeIdle
		s.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", s.desc.ReadUUID, err)
	}
	s.log.Debug("notifications enabled")
	return nil
}

// WriteLine sends data as one frame. With confirmed set it returns only
// after the peripheral acknowledged. Only one write may be outstanding;
// a second one fails with ErrWriteInProgress instead of queueing. The slot
// stays taken until the transport call returns, even if ctx ends first.
func (s *Session) WriteLine(ctx context.Context, data []byte, confirmed bool) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	wc := s.writeChar
	link := s.link
	s.mu.Unlock()

	select {
	case s.writeSlot <- struct{}{}:
	default:
		return ErrWriteInProgress
	}

	result := make(chan error, 1)
	go func() {
		err := wc.Write(data, confirmed)
		<-s.writeSlot // free before reporting so a follow-up write never sees it taken
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			if derr := s.dropErr(link); derr != nil {
				return derr
			}
			return fmt.Errorf("write %s: %w", s.desc.WriteUUID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	}
}

// dropErr returns the terminal error for a failure seen after the link went
// down, or nil if the link is still up.
func (s *Session) dropErr(link Link) error {
	select {
	case <-link.Done():
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing || (s.state == StateClosed && s.err == nil) {
		return ErrNotConnected
	}
	return ErrLinkDropped
}

// Poll is the idle-read alternative to notifications: it reads the read
// characteristic repeatedly and hands every non-empty value to fn. perSecond
// caps the read rate; 0 reads back to back. Poll returns when ctx is done
// or the link closes, and with an error when ctx's deadline falls before the
// next permitted read.
func (s *Session) Poll(ctx context.Context, perSecond float64, fn func([]byte)) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.mode != modeIdle {
		s.mu.Unlock()
		return ErrModeConflict
	}
	s.mode = modePoll
	rc := s.readChar
	link := s.link
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.mode = modeIdle
		s.mu.Unlock()
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	for {
		// Wait also fails early when the next token lies past ctx's deadline.
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("poll: %w", err)
		}
		select {
		case <-s.done:
			return s.Err()
		default:
		}

		data, err := rc.Read()
		if err != nil {
			if derr := s.dropErr(link); derr != nil {
				return derr
			}
			return fmt.Errorf("read %s: %w", s.desc.ReadUUID, err)
		}
		if len(data) > 0 {
			fn(data)
		}
	}
}

// IsFatal reports whether err means the session cannot continue.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLinkDropped) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrCharacteristicNotFound) ||
		errors.Is(err, ErrTransportUnavailable) ||
		errors.Is(err, ErrNotConnected)
}
