package shelfsync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectivityConfig configures the connectivity monitor.
type ConnectivityConfig struct {
	// ProbeURL is the endpoint probed to decide online/offline
	ProbeURL string `yaml:"probe_url"`

	// ProbeInterval is how often the probe runs
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single probe
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// DefaultConnectivityConfig returns default monitor configuration.
func DefaultConnectivityConfig() ConnectivityConfig {
	return ConnectivityConfig{
		ProbeURL:      "https://connect.squareup.com/v2/locations",
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// ConnectivityMonitor tracks whether the remote API is reachable and
// notifies listeners on transitions. Callbacks fire on edges only, never
// on repeated samples of the same state.
type ConnectivityMonitor struct {
	config ConnectivityConfig
	client HTTPDoer
	logger *slog.Logger

	online atomic.Bool

	mu        sync.Mutex
	callbacks []func(online bool)
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewConnectivityMonitor creates a monitor. A nil httpClient uses a
// default http.Client with the probe timeout.
func NewConnectivityMonitor(config ConnectivityConfig, httpClient HTTPDoer, logger *slog.Logger) *ConnectivityMonitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 15 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.ProbeTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &ConnectivityMonitor{
		config: config,
		client: httpClient,
		logger: logger,
	}
	// Assume online until a probe says otherwise.
	m.online.Store(true)
	return m
}

// IsOnline reports the last observed connectivity state.
func (m *ConnectivityMonitor) IsOnline() bool {
	return m.online.Load()
}

// OnChange registers a callback invoked on every online/offline edge.
func (m *ConnectivityMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// SetOnline forces the connectivity state, firing callbacks on a change.
// External reachability signals (OS network callbacks, tests) feed in here.
func (m *ConnectivityMonitor) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}

	m.logger.Info("connectivity changed", "online", online)

	m.mu.Lock()
	callbacks := make([]func(bool), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(online)
	}
}

// Start begins periodic probing.
func (m *ConnectivityMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop halts probing.
func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *ConnectivityMonitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.SetOnline(m.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}

func (m *ConnectivityMonitor) probe(ctx context.Context) bool {
	if m.config.ProbeURL == "" {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, m.config.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	// Any HTTP response, including 4xx, proves reachability.
	return true
}
