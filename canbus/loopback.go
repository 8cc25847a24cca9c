package canbus

import (
	"context"
	"slices"
	"sync"
)

// portQueue is the receive buffer of one loopback port.
const portQueue = 64

// LoopbackBus is an in-memory CAN segment for tests and simulations.
// Every port opened on it sees the frames sent by the other ports, never its
// own.
type LoopbackBus struct {
	mu    sync.Mutex
	shut  bool
	ports []*loopPort
}

// NewLoopbackBus returns an empty segment.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Open attaches a new port. Ports opened after Close are already closed.
func (b *LoopbackBus) Open() Bus {
	p := &loopPort{
		hub:  b,
		rx:   make(chan Frame, portQueue),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shut {
		p.shutdown()
		return p
	}
	b.ports = append(b.ports, p)
	return p
}

// Dial matches the bus layer's dialer signature. The device name is ignored.
func (b *LoopbackBus) Dial(string) (Bus, error) {
	b.mu.Lock()
	shut := b.shut
	b.mu.Unlock()
	if shut {
		return nil, ErrClosed
	}
	return b.Open(), nil
}

// Close shuts the segment and every port on it.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	if b.shut {
		b.mu.Unlock()
		return nil
	}
	b.shut = true
	ports := b.ports
	b.ports = nil
	b.mu.Unlock()

	for _, p := range ports {
		p.shutdown()
	}
	return nil
}

// peers lists the ports a frame from src must reach.
func (b *LoopbackBus) peers(src *loopPort) ([]*loopPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shut {
		return nil, ErrClosed
	}
	out := make([]*loopPort, 0, len(b.ports))
	for _, p := range b.ports {
		if p != src {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *LoopbackBus) detach(p *loopPort) {
	b.mu.Lock()
	b.ports = slices.DeleteFunc(b.ports, func(q *loopPort) bool { return q == p })
	b.mu.Unlock()
}

type loopPort struct {
	hub  *LoopbackBus
	rx   chan Frame
	done chan struct{}
	once sync.Once
}

func (p *loopPort) shutdown() {
	p.once.Do(func() { close(p.done) })
}

func (p *loopPort) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Send copies frame to every other port. A full peer queue blocks until ctx
// is done; a peer closing meanwhile just misses the frame.
func (p *loopPort) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if p.closed() {
		return ErrClosed
	}
	targets, err := p.hub.peers(p)
	if err != nil {
		return err
	}
	for _, t := range targets {
		select {
		case t.rx <- frame:
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *loopPort) Receive(ctx context.Context) (Frame, error) {
	if p.closed() {
		return Frame{}, ErrClosed
	}
	select {
	case f := <-p.rx:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *loopPort) Close() error {
	p.hub.detach(p)
	p.shutdown()
	return nil
}
