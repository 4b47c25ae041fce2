package media

import (
	"fmt"
	"sync"
)

// PortPool hands out even RTP ports from a fixed range. The odd port
// above each is left for RTCP.
type PortPool struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	free      []int
	allocated map[int]bool
}

// NewPortPool creates a pool over [minPort, maxPort].
func NewPortPool(minPort, maxPort int) *PortPool {
	if minPort%2 != 0 {
		minPort++
	}

	p := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[int]bool),
	}
	for port := minPort; port < maxPort; port += 2 {
		p.free = append(p.free, port)
	}
	return p
}

// Allocate returns the lowest free RTP port.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, fmt.Errorf("%w (range %d-%d)", ErrNoPorts, p.minPort, p.maxPort)
	}
	port := p.free[0]
	p.free = p.free[1:]
	p.allocated[port] = true
	return port, nil
}

// Release returns a port to the pool. Unknown ports are ignored.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allocated[port] {
		return
	}
	delete(p.allocated, port)
	p.free = append(p.free, port)
}

// Available returns the number of free ports.
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated returns the number of ports in use.
func (p *PortPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
