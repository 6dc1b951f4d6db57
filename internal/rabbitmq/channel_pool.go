package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelPool keeps a bounded set of idle publish channels. Channels are
// borrowed with Get and handed back with Put; when the idle set is full a
// returned channel is closed instead of kept, so bursts may open overflow
// channels that are discarded afterwards.
type ChannelPool struct {
	manager *ConnectionManager
	idle    []*PooledChannel
	maxIdle int
	mu      sync.Mutex
	closed  bool
	logger  *slog.Logger
}

// PooledChannel wraps a channel with pool metadata
type PooledChannel struct {
	Channel
	id string
}

// ID identifies the channel in logs
func (pc *PooledChannel) ID() string {
	return pc.id
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxIdle sets how many idle channels are kept
func WithMaxIdle(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxIdle = size
	}
}

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.logger = logger
	}
}

// NewChannelPool creates a new channel pool. Channels are opened on demand.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	pool := &ChannelPool{
		manager: manager,
		maxIdle: 3,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(pool)
	}

	if pool.maxIdle < 1 {
		return nil, fmt.Errorf("%w: max idle channels must be at least 1", ErrInvalidConfiguration)
	}

	return pool, nil
}

// Get borrows an idle channel or opens a new one on the shared connection
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}
	for len(cp.idle) > 0 {
		ch := cp.idle[0]
		cp.idle[0] = nil
		cp.idle = cp.idle[1:]
		if ch.IsClosed() {
			continue
		}
		cp.mu.Unlock()
		return ch, nil
	}
	cp.mu.Unlock()

	return cp.createChannel(ctx)
}

// Put returns a channel to the pool, closing it when the pool is full,
// closed, or the channel itself is no longer usable
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil || ch.IsClosed() {
		return
	}

	cp.mu.Lock()
	if !cp.closed && len(cp.idle) < cp.maxIdle {
		cp.idle = append(cp.idle, ch)
		cp.mu.Unlock()
		return
	}
	cp.mu.Unlock()

	if err := ch.Close(); err != nil {
		cp.logger.Warn("failed to close overflow channel", "channel", ch.id, "error", err)
	}
}

// Close closes every idle channel. Channels still borrowed are closed when
// they are put back.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	idle := cp.idle
	cp.idle = nil
	cp.mu.Unlock()

	for _, ch := range idle {
		if ch.IsClosed() {
			continue
		}
		if err := ch.Close(); err != nil {
			cp.logger.Warn("failed to close idle channel", "channel", ch.id, "error", err)
		}
	}

	return nil
}

// IdleCount returns the number of idle channels
func (cp *ChannelPool) IdleCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.idle)
}

// Execute runs a function with a channel from the pool. The channel is
// returned on every path, including a panic in fn.
func (cp *ChannelPool) Execute(ctx context.Context, fn func(Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in channel execution: %v", r)
			}
		}()
		execErr = fn(ch.Channel)
	}()

	return execErr
}

func (cp *ChannelPool) createChannel(ctx context.Context) (*PooledChannel, error) {
	conn, err := cp.manager.Connection(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: id,
			Err:       fmt.Errorf("%w: %v", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	cp.logger.Debug("opened publish channel", "channel", id)
	return &PooledChannel{Channel: ch, id: id}, nil
}
