package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/logger"
)

const (
	defaultInboxSize  = 64
	defaultAcceptSize = 64
)

// Mux keeps sessions of a single address and routes inbound messages to them.
// Mux implements Transport, concrete transports only provide the SendFunc and
// call Dispatch for every received message.
type Mux struct {
	address   string
	send      SendFunc
	inboxSize int
	log       logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	finished map[string]struct{}
	accept   chan *Session
	done     chan struct{}
	once     sync.Once
	onClose  func()
}

// NewMux creates Mux for the address sending outbound messages with send.
func NewMux(address string, send SendFunc, log logger.Logger) *Mux {
	return &Mux{
		address:   address,
		send:      send,
		inboxSize: defaultInboxSize,
		log:       log,
		sessions:  make(map[string]*Session),
		finished:  make(map[string]struct{}),
		accept:    make(chan *Session, defaultAcceptSize),
		done:      make(chan struct{}),
	}
}

// Address returns local address.
func (m *Mux) Address() string {
	return m.address
}

// Open opens new session with the peer.
func (m *Mux) Open(ctx context.Context, peer, protocol string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}
	s := newSession(m, uuid.NewString(), peer, protocol)
	m.sessions[s.ID] = s
	return s, nil
}

// Accept waits for a session opened by a peer.
func (m *Mux) Accept(ctx context.Context) (*Session, error) {
	select {
	case s := <-m.accept:
		return s, nil
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatch routes inbound message to its session.
// The first message of an unknown session opens an inbound session awaiting Accept.
// Messages of closed sessions and duplicates are dropped.
func (m *Mux) Dispatch(msg Message) error {
	if msg.To != m.address {
		return fmt.Errorf("%w: message for %s received by %s", ErrUnknownPeer, msg.To, m.address)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	if _, ok := m.finished[msg.Session]; ok {
		m.log.Debug(fmt.Sprintf("dropping message [ %s ] of finished session [ %s ]", msg.Kind, msg.Session))
		return nil
	}

	s, ok := m.sessions[msg.Session]
	if ok {
		if s.Peer != msg.From {
			m.log.Warn(fmt.Sprintf("session [ %s ] belongs to %s, dropping message from %s", msg.Session, s.Peer, msg.From))
			return nil
		}
		if s.Protocol != msg.Protocol {
			return ErrWrongProtocol
		}
		_, err := s.deliver(msg)
		return err
	}

	s = newSession(m, msg.Session, msg.From, msg.Protocol)
	if _, err := s.deliver(msg); err != nil {
		return err
	}
	select {
	case m.accept <- s:
		m.sessions[s.ID] = s
		return nil
	default:
		return ErrInboxFull
	}
}

// Close closes every session and stops accepting new ones.
func (m *Mux) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		close(m.done)
		sessions := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()
		for _, s := range sessions {
			s.Close()
		}
		if m.onClose != nil {
			m.onClose()
		}
	})
	return nil
}

func (m *Mux) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
	m.finished[s.ID] = struct{}{}
}
