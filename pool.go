package mqpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glimte/mqpool/config"
	"github.com/glimte/mqpool/internal/rabbitmq"
	"github.com/glimte/mqpool/serialization"
)

var (
	// ErrInvalidArgument is wrapped by every validation failure
	ErrInvalidArgument = errors.New("mqpool: invalid argument")
	// ErrPoolClosed is returned by operations on a closed pool
	ErrPoolClosed = errors.New("mqpool: pool is closed")
)

// Pool shares one broker connection between publishers, topology declares
// and subscribers. Nothing is dialed until the first operation needs the
// broker.
type Pool struct {
	logger    *slog.Logger
	bridge    *serialization.Bridge
	sink      ExceptionSink
	manager   *rabbitmq.ConnectionManager
	channels  *rabbitmq.ChannelPool
	topology  *rabbitmq.TopologyManager
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	closed    atomic.Bool
}

// New creates a pool for the broker described by opts
func New(opts Options, options ...Option) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg := &poolConfig{
		logger:     slog.Default(),
		serializer: serialization.NewJSONSerializer(),
		dial:       rabbitmq.DialAMQP,
	}
	for _, opt := range options {
		opt(cfg)
	}

	bridge, err := serialization.NewBridge(cfg.serializer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	manager := rabbitmq.NewConnectionManager(opts.url(), opts.amqpConfig(),
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithRecoveryInterval(opts.RecoveryInterval),
		rabbitmq.WithDialer(cfg.dial),
	)

	channels, err := rabbitmq.NewChannelPool(manager,
		rabbitmq.WithMaxIdle(opts.MaxPublishChannels),
		rabbitmq.WithChannelLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	return &Pool{
		logger:    cfg.logger,
		bridge:    bridge,
		sink:      cfg.sink,
		manager:   manager,
		channels:  channels,
		topology:  rabbitmq.NewTopologyManager(channels),
		publisher: rabbitmq.NewPublisher(channels),
		consumer:  rabbitmq.NewConsumer(manager, rabbitmq.WithConsumerLogger(cfg.logger)),
	}, nil
}

// IsOpen reports whether the broker connection is established
func (p *Pool) IsOpen() bool {
	return !p.closed.Load() && p.manager.IsConnected()
}

// Heartbeat returns the heartbeat of the current connection, zero when
// there is none
func (p *Pool) Heartbeat() time.Duration {
	return p.manager.Heartbeat()
}

// Stats describes the pool resources
type Stats struct {
	Open                bool
	Heartbeat           time.Duration
	IdlePublishChannels int
	Subscriptions       int
}

// Stats returns a snapshot of the pool resources
func (p *Pool) Stats() Stats {
	return Stats{
		Open:                p.IsOpen(),
		Heartbeat:           p.manager.Heartbeat(),
		IdlePublishChannels: p.channels.IdleCount(),
		Subscriptions:       len(p.consumer.Tags()),
	}
}

// Ping connects if needed and checks that a publish channel can be used
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.channels.Execute(ctx, func(ch rabbitmq.Channel) error {
		if ch.IsClosed() {
			return rabbitmq.ErrChannelCreationFailed
		}
		return nil
	})
}

// DeclareExchange declares exchanges on one publish channel. Empty names
// and kinds take the defaults. The batch is not atomic.
func (p *Pool) DeclareExchange(ctx context.Context, exchanges ...config.Exchange) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if len(exchanges) == 0 {
		return nil
	}

	declared := make([]config.Exchange, len(exchanges))
	for i, ex := range exchanges {
		ex = ex.Copy()
		if ex.Name == "" {
			ex.Name = config.DefaultExchange
		}
		switch ex.Kind {
		case "":
			ex.Kind = config.KindDirect
		case config.KindDirect, config.KindFanout, config.KindTopic:
		default:
			return fmt.Errorf("%w: exchange %q has unsupported kind %q", ErrInvalidArgument, ex.Name, ex.Kind)
		}
		declared[i] = ex
	}

	return p.topology.DeclareExchanges(ctx, declared)
}

// DeclareQueue declares and binds queues on one publish channel, adding the
// dead-letter companion of every queue with a distinct delay queue. The
// batch is not atomic.
func (p *Pool) DeclareQueue(ctx context.Context, queues ...config.Queue) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if len(queues) == 0 {
		return nil
	}

	for i, q := range queues {
		if q.Name == "" {
			return fmt.Errorf("%w: queue %d has no name", ErrInvalidArgument, i)
		}
		if q.Exchange == "" {
			return fmt.Errorf("%w: queue %q has no exchange", ErrInvalidArgument, q.Name)
		}
	}

	declared := make([]config.Queue, len(queues))
	for i, q := range queues {
		declared[i] = q.Copy()
	}
	return p.topology.DeclareQueues(ctx, declared)
}

// Unsubscribe cancels the subscription with the given consumer tag
func (p *Pool) Unsubscribe(consumerTag string) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.consumer.Unsubscribe(consumerTag)
}

// Close releases the subscribe channel, the idle publish channels and the
// connection. Failures are logged and never stop the remaining releases.
// Closing an already closed pool does nothing.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := p.consumer.Close(); err != nil {
		p.logger.Warn("failed to close consumer", "error", err)
	}
	if err := p.channels.Close(); err != nil {
		p.logger.Warn("failed to close publish channels", "error", err)
	}
	if err := p.manager.Close(); err != nil {
		p.logger.Warn("failed to close connection", "error", err)
	}

	p.logger.Info("pool closed")
	return nil
}
