// Package netwatch tracks whether the editor can reach its backend.
package netwatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks connectivity; a nil error means online
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

// Ping implements Prober
func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// HTTPProber reports online when url answers with any HTTP status
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates an HTTPProber
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{url: url, client: &http.Client{Timeout: timeout}}
}

// Ping implements Prober
func (p *HTTPProber) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type subscriber struct {
	id int
	fn func(online bool)
}

// Monitor holds the current connectivity state and notifies subscribers of
// transitions, in subscription order.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []subscriber
	nextID int

	// notifyMu keeps notifications of successive transitions from interleaving
	notifyMu sync.Mutex

	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor that starts online. prober may be nil, in which
// case only Set changes the state.
func NewMonitor(prober Prober, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{
		online:   true,
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Online reports the last known state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transitions and returns its unsubscribe function
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Set records the state reported by a client or a probe. Subscribers are
// called synchronously, only when the state changes.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", zap.Bool("online", online))

	for _, s := range subs {
		s.fn(online)
	}
}

// Run probes every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		<-ctx.Done()
		return
	}

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()

	err := m.prober.Ping(ctx)
	if parent.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug("Connectivity probe failed", zap.Error(err))
	}
	m.Set(err == nil)
}
