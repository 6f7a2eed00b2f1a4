// Package ports finds free loopback TCP ports for browser debug endpoints.
//
// A port is considered free when a transient listener can bind to it. The
// listener is closed before the port is handed out, so another process may
// claim it before the browser does. Callers that need a hard guarantee must
// retry at a higher level.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// MaxPort is the exclusive upper bound of the scan.
const MaxPort = 65535

var (
	// ErrPortExhausted is returned when no port in the scanned range could be bound.
	ErrPortExhausted = errors.New("no free port available")
	// ErrInvalidPort is returned for a start port outside [1, MaxPort).
	ErrInvalidPort = errors.New("invalid start port")
)

// probe is swapped in tests.
var probe = isFree

func isFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// FindFreePort returns the first port at or above start that can be bound on
// 127.0.0.1.
func FindFreePort(start int) (int, error) {
	if start < 1 || start >= MaxPort {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, start)
	}
	for port := start; port < MaxPort; port++ {
		if probe(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: scanned %d-%d", ErrPortExhausted, start, MaxPort-1)
}

// Allocator hands out ports from a moving cursor so that back-to-back
// launches in one process do not probe the same candidate.
type Allocator struct {
	mu   sync.Mutex
	base int
	next int
}

// NewAllocator creates an Allocator whose cursor starts at base.
func NewAllocator(base int) (*Allocator, error) {
	if base < 1 || base >= MaxPort {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, base)
	}
	return &Allocator{base: base, next: base}, nil
}

// Next returns a free port at or above the cursor and advances the cursor
// past it. When the top of the range is exhausted the scan restarts once
// from the base port.
func (a *Allocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, err := FindFreePort(a.next)
	if errors.Is(err, ErrPortExhausted) && a.next != a.base {
		port, err = FindFreePort(a.base)
	}
	if err != nil {
		return 0, err
	}

	a.next = port + 1
	if a.next >= MaxPort {
		a.next = a.base
	}
	return port, nil
}

// Reset moves the cursor back to the base port.
func (a *Allocator) Reset() {
	a.mu.Lock()
	a.next = a.base
	a.mu.Unlock()
}
