// Package keepalive implements the idle-driven synthetic-activity worker and
// the mutual-exclusion Gate it shares with the request dispatcher.
package keepalive

import "sync"

// Gate is the readers-writer primitive ensuring a keepalive action and a
// dispatcher-invoked handler call never overlap in wall-clock time. The
// dispatcher takes the reader side; the keepalive worker takes the writer
// side. No other component touches it.
type Gate struct {
	mu sync.RWMutex
}

// AcquireShared blocks until no keepalive action holds the gate exclusively.
func (g *Gate) AcquireShared() { g.mu.RLock() }

// ReleaseShared releases a previously acquired shared hold.
func (g *Gate) ReleaseShared() { g.mu.RUnlock() }

// AcquireExclusive blocks until no request holds the gate in shared mode.
func (g *Gate) AcquireExclusive() { g.mu.Lock() }

// ReleaseExclusive releases a previously acquired exclusive hold.
func (g *Gate) ReleaseExclusive() { g.mu.Unlock() }
