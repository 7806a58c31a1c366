package shelfsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TeamStoreConfig configures the shared annotation backend.
type TeamStoreConfig struct {
	// BaseURL of the team annotation service
	BaseURL string `yaml:"base_url"`

	// StreamURL is the websocket endpoint for change notifications.
	// Empty disables the listener.
	StreamURL string `yaml:"stream_url"`

	// Timeout for a single HTTP request
	Timeout time.Duration `yaml:"timeout"`

	// ReconnectBackoff is the initial delay before re-dialing the stream
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectBackoff caps the re-dial delay
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`
}

// DefaultTeamStoreConfig returns default team store configuration.
func DefaultTeamStoreConfig() TeamStoreConfig {
	return TeamStoreConfig{
		Timeout:             15 * time.Second,
		ReconnectBackoff:    time.Second,
		MaxReconnectBackoff: time.Minute,
	}
}

// TeamStore is the shared backend holding team annotation records. The
// returned records carry server-assigned timestamps, which feed conflict
// detection.
type TeamStore interface {
	Get(ctx context.Context, itemID string) (*TeamData, error)
	Put(ctx context.Context, data *TeamData) (*TeamData, error)
}

// HTTPTeamStore talks to the annotation service over HTTP.
type HTTPTeamStore struct {
	base   string
	client HTTPDoer
	tokens TokenSource
}

// NewHTTPTeamStore creates an annotation client. A nil httpClient uses a
// default http.Client with the configured timeout.
func NewHTTPTeamStore(config TeamStoreConfig, tokens TokenSource, httpClient HTTPDoer) *HTTPTeamStore {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPTeamStore{
		base:   strings.TrimRight(config.BaseURL, "/"),
		client: httpClient,
		tokens: tokens,
	}
}

// Get implements TeamStore. Missing records return (nil, nil).
func (t *HTTPTeamStore) Get(ctx context.Context, itemID string) (*TeamData, error) {
	body, status, err := t.do(ctx, http.MethodGet, t.base+"/v1/team-data/"+itemID, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var data TeamData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &DecodeError{Endpoint: t.base + "/v1/team-data", Cause: err}
	}
	return &data, nil
}

// Put implements TeamStore. The response echoes the record with
// server-assigned timestamps.
func (t *HTTPTeamStore) Put(ctx context.Context, data *TeamData) (*TeamData, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal team data: %w", err)
	}

	body, _, err := t.do(ctx, http.MethodPut, t.base+"/v1/team-data/"+data.ItemID, payload)
	if err != nil {
		return nil, err
	}

	var out TeamData
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &DecodeError{Endpoint: t.base + "/v1/team-data", Cause: err}
	}
	return &out, nil
}

func (t *HTTPTeamStore) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncateBody(respBody),
		}
	}
	return respBody, resp.StatusCode, nil
}

// TeamChange is one change notification from the annotation stream.
type TeamChange struct {
	ItemID    string    `json:"item_id"`
	Data      *TeamData `json:"data,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// TeamChangeHandler consumes change notifications.
type TeamChangeHandler func(change *TeamChange)

// TeamChangeListener keeps a websocket subscription to the annotation
// stream, re-dialing with exponential backoff on disconnect.
type TeamChangeListener struct {
	config  TeamStoreConfig
	tokens  TokenSource
	handler TeamChangeHandler
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTeamChangeListener creates a listener. The handler runs on the read
// goroutine and must not block.
func NewTeamChangeListener(config TeamStoreConfig, tokens TokenSource, handler TeamChangeHandler, logger *slog.Logger) *TeamChangeListener {
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = time.Second
	}
	if config.MaxReconnectBackoff <= 0 {
		config.MaxReconnectBackoff = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TeamChangeListener{
		config:  config,
		tokens:  tokens,
		handler: handler,
		logger:  logger,
	}
}

// Start opens the stream. No-op when no stream URL is configured.
func (l *TeamChangeListener) Start() {
	if l.config.StreamURL == "" {
		return
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.listenLoop(ctx)
}

// Stop closes the stream.
func (l *TeamChangeListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *TeamChangeListener) listenLoop(ctx context.Context) {
	defer l.wg.Done()

	backoff := l.config.ReconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger.Warn("annotation stream disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.config.MaxReconnectBackoff {
			backoff = l.config.MaxReconnectBackoff
		}
	}
}

func (l *TeamChangeListener) listenOnce(ctx context.Context) error {
	token, err := l.tokens.Token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, l.config.StreamURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("failed to dial annotation stream: %w", err)
	}
	defer conn.Close()

	l.logger.Info("annotation stream connected", "url", l.config.StreamURL)

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var change TeamChange
		if err := json.Unmarshal(message, &change); err != nil {
			l.logger.Warn("skipping malformed change notification", "error", err)
			continue
		}
		if l.handler != nil {
			l.handler(&change)
		}
	}
}
