package remote

import (
	"context"
	"net"
	"sync"
	"time"
)

// ConnectivityMonitor tracks whether the remote store is reachable and
// notifies listeners on transitions. The engine uses the offline→online
// transition as a sync trigger.
type ConnectivityMonitor interface {
	// IsOnline probes connectivity once.
	IsOnline() bool
	// OnChange registers a callback invoked on every online/offline
	// transition observed by the probe loop or reported via SetOnline.
	OnChange(callback func(online bool))
	// SetOnline feeds an externally observed connectivity state, e.g. from
	// a failed remote call.
	SetOnline(online bool)
	// Start runs the probe loop until ctx is cancelled.
	Start(ctx context.Context, interval time.Duration)
}

// tcpConnectivityMonitor probes by dialing a TCP address.
type tcpConnectivityMonitor struct {
	probeAddr string

	mu        sync.Mutex
	online    bool
	known     bool
	callbacks []func(online bool)
}

// NewConnectivityMonitor creates a monitor that dials probeAddr (e.g.
// "8.8.8.8:53") to detect connectivity.
func NewConnectivityMonitor(probeAddr string) ConnectivityMonitor {
	return &tcpConnectivityMonitor{probeAddr: probeAddr}
}

func (m *tcpConnectivityMonitor) IsOnline() bool {
	conn, err := net.DialTimeout("tcp", m.probeAddr, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (m *tcpConnectivityMonitor) OnChange(callback func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *tcpConnectivityMonitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	callbacks := make([]func(bool), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range callbacks {
		cb(online)
	}
}

func (m *tcpConnectivityMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.SetOnline(m.IsOnline())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.IsOnline())
		}
	}
}
