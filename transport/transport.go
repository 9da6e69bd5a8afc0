package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/bartossh/Timesheet/serializer"
)

var (
	ErrClosed        = errors.New("transport is closed")
	ErrSessionClosed = errors.New("session is closed")
	ErrUnknownPeer   = errors.New("peer is not reachable")
	ErrInboxFull     = errors.New("session inbox is full")
	ErrWrongProtocol = errors.New("message belongs to another protocol")
)

// Message is a single protocol message exchanged within a session.
type Message struct {
	Session  string `msgpack:"session"`
	Protocol string `msgpack:"protocol"`
	Kind     string `msgpack:"kind"`
	From     string `msgpack:"from"`
	To       string `msgpack:"to"`
	Sequence uint64 `msgpack:"sequence"`
	Payload  []byte `msgpack:"payload"`
}

// Decode decodes message payload in to v.
func (m Message) Decode(v any) error {
	return serializer.Unmarshal(m.Payload, v)
}

// Transport opens sessions to peers and accepts sessions opened by peers.
// Delivery is at least once, sessions drop messages they have already seen.
type Transport interface {
	Address() string
	Open(ctx context.Context, peer, protocol string) (*Session, error)
	Accept(ctx context.Context) (*Session, error)
	Close() error
}

// SendFunc delivers the message to the peer named in Message.To.
type SendFunc func(ctx context.Context, msg Message) error

// Session is a conversation between two addresses within a single protocol run.
type Session struct {
	ID       string
	Peer     string
	Protocol string

	local string
	send  SendFunc
	inbox chan Message
	done  chan struct{}
	once  sync.Once
	mux   *Mux

	mu   sync.Mutex
	seq  uint64
	seen map[uint64]struct{}
}

func newSession(m *Mux, id, peer, protocol string) *Session {
	return &Session{
		ID:       id,
		Peer:     peer,
		Protocol: protocol,
		local:    m.address,
		send:     m.send,
		inbox:    make(chan Message, m.inboxSize),
		done:     make(chan struct{}),
		mux:      m,
		seen:     make(map[uint64]struct{}),
	}
}

// Send encodes v and sends it to the peer as message of the given kind.
// A nil v sends an empty payload.
func (s *Session) Send(ctx context.Context, kind string, v any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	var payload []byte
	if v != nil {
		var err error
		payload, err = serializer.Marshal(v)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return s.send(ctx, Message{
		Session:  s.ID,
		Protocol: s.Protocol,
		Kind:     kind,
		From:     s.local,
		To:       s.Peer,
		Sequence: seq,
		Payload:  payload,
	})
}

// Receive waits for the next message from the peer.
func (s *Session) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.done:
		select {
		case msg := <-s.inbox:
			return msg, nil
		default:
		}
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close closes the session. Messages arriving later for the session are dropped.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mux.forget(s)
	})
}

// deliver reports false when the message is a duplicate.
func (s *Session) deliver(msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[msg.Sequence]; ok {
		return false, nil
	}
	select {
	case s.inbox <- msg:
		s.seen[msg.Sequence] = struct{}{}
		return true, nil
	default:
		return false, ErrInboxFull
	}
}
