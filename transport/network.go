package transport

import (
	"context"
	"sync"

	"github.com/bartossh/Timesheet/logger"
)

// Network is an in-process transport connecting every joined address.
// With duplicate delivery on every message is delivered twice.
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*Mux
	duplicate bool
	log       logger.Logger
}

// NewNetwork creates empty in-process network.
func NewNetwork(log logger.Logger) *Network {
	return &Network{endpoints: make(map[string]*Mux), log: log}
}

// SetDuplicateDelivery turns duplicate delivery on or off.
func (n *Network) SetDuplicateDelivery(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.duplicate = on
}

// Join registers the address and returns its transport.
func (n *Network) Join(address string) *Mux {
	m := NewMux(address, n.deliver, n.log)
	m.onClose = func() { n.Leave(address) }
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[address] = m
	return m
}

// Leave removes the address from the network making it unreachable.
func (n *Network) Leave(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, address)
}

func (n *Network) deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.RLock()
	m, ok := n.endpoints[msg.To]
	duplicate := n.duplicate
	n.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}

	msg.Payload = append([]byte(nil), msg.Payload...)
	if err := m.Dispatch(msg); err != nil {
		return err
	}
	if duplicate {
		return m.Dispatch(msg)
	}
	return nil
}
