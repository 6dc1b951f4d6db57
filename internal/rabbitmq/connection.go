package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns the single broker connection. The connection is
// dialed lazily on first use and redialed in the background when an
// established connection drops.
type ConnectionManager struct {
	url              string
	config           amqp.Config
	dial             Dialer
	mu               sync.Mutex
	conn             Connection
	closed           bool
	recoveryInterval time.Duration
	logger           *slog.Logger
	done             chan struct{}
	stateListeners   []ConnectionStateListener
	listenersMu      sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithRecoveryInterval sets the delay between reconnection attempts
func WithRecoveryInterval(interval time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.recoveryInterval = interval
	}
}

// WithDialer replaces the function used to open connections
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager. No connection is
// opened until Connection is called.
func NewConnectionManager(url string, config amqp.Config, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:              url,
		config:           config,
		dial:             DialAMQP,
		recoveryInterval: 15 * time.Second,
		logger:           slog.Default(),
		done:             make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connection returns the shared connection, dialing it if needed.
// Concurrent first callers wait for a single dial.
func (cm *ConnectionManager) Connection(ctx context.Context) (Connection, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil, ErrConnectionClosed
	}
	if cm.conn != nil && !cm.conn.IsClosed() {
		return cm.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now()}
	}

	conn, err := cm.dial(cm.url, cm.config)
	if err != nil {
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.conn = conn
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(conn, notifyClose)

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	return conn, nil
}

// IsConnected reports whether an open connection exists
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.conn != nil && !cm.conn.IsClosed()
}

// Heartbeat returns the negotiated heartbeat, zero when not connected
func (cm *ConnectionManager) Heartbeat() time.Duration {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.conn == nil {
		return 0
	}
	return cm.conn.Heartbeat()
}

// Close closes the connection and stops recovery. It is safe to call more
// than once.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	close(cm.done)
	conn := cm.conn
	cm.conn = nil
	cm.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// watch waits for the connection to close and starts recovery when the
// broker closed it with an error
func (cm *ConnectionManager) watch(conn Connection, notifyClose chan *amqp.Error) {
	select {
	case amqpErr, ok := <-notifyClose:
		if !ok || amqpErr == nil {
			cm.logger.Debug("amqp connection closed gracefully")
			return
		}

		cm.mu.Lock()
		if cm.conn == conn {
			cm.conn = nil
		}
		closed := cm.closed
		cm.mu.Unlock()
		if closed {
			return
		}

		cm.logger.Error("connection closed", "error", amqpErr)
		cm.notifyDisconnected(amqpErr)
		cm.reconnect()

	case <-cm.done:
	}
}

// reconnect redials every recovery interval until it succeeds or the
// manager is closed
func (cm *ConnectionManager) reconnect() {
	startTime := time.Now()

	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(cm.recoveryInterval):
		case <-cm.done:
			return
		}

		cm.logger.Info("attempting to reconnect", "attempt", attempt)
		cm.notifyReconnecting(attempt)

		_, err := cm.Connection(context.Background())
		if err == nil {
			cm.logger.Info("successfully reconnected to RabbitMQ",
				"attempts", attempt,
				"duration", time.Since(startTime))
			cm.notifyConnected()
			return
		}
		if errors.Is(err, ErrConnectionClosed) {
			return
		}

		cm.logger.Error("reconnection failed",
			"error", err,
			"attempt", attempt,
			"nextRetryIn", cm.recoveryInterval)
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, listener := range cm.listeners() {
		listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, listener := range cm.listeners() {
		listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, listener := range cm.listeners() {
		listener.OnReconnecting(attempt)
	}
}
