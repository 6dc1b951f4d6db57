package mqpool

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cristalhq/aconfig"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqpool/internal/rabbitmq"
	"github.com/glimte/mqpool/serialization"
)

const (
	defaultMaxPublishChannels = 3
	defaultRecoveryInterval   = 15 * time.Second
)

// Options holds the broker connection settings
type Options struct {
	Host               string        `env:"HOST" usage:"broker host"`
	Port               int           `env:"PORT" default:"5672" usage:"broker port"`
	User               string        `env:"USER" usage:"broker login"`
	Password           string        `env:"PASSWORD" usage:"broker password"`
	VirtualHost        string        `env:"VHOST" default:"/" usage:"virtual host"`
	MaxPublishChannels int           `env:"MAX_PUBLISH_CHANNELS" default:"3" usage:"idle publish channels kept open"`
	RecoveryInterval   time.Duration `env:"RECOVERY_INTERVAL" default:"15s" usage:"delay between reconnection attempts"`
	Heartbeat          time.Duration `env:"HEARTBEAT" usage:"requested heartbeat, zero leaves it to the broker"`
	ClientName         string        `env:"CLIENT_NAME" default:"mqpool" usage:"connection name shown by the broker"`
}

// LoadOptions reads Options from MQPOOL_ prefixed environment variables
func LoadOptions() (Options, error) {
	var opts Options
	loader := aconfig.LoaderFor(&opts, aconfig.Config{
		EnvPrefix: "MQPOOL",
		SkipFiles: true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		return Options{}, fmt.Errorf("failed to load options: %w", err)
	}
	return opts, nil
}

// Validate checks required settings and fills tuning defaults
func (o *Options) Validate() error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("%w: host is required", ErrInvalidArgument))
	}
	if o.Port <= 0 || o.Port >= 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, o.Port))
	}
	if o.User == "" {
		errs = append(errs, fmt.Errorf("%w: user is required", ErrInvalidArgument))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if o.VirtualHost == "" {
		o.VirtualHost = "/"
	}
	if o.MaxPublishChannels <= 0 {
		o.MaxPublishChannels = defaultMaxPublishChannels
	}
	if o.RecoveryInterval <= 0 {
		o.RecoveryInterval = defaultRecoveryInterval
	}
	return nil
}

func (o Options) url() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     o.Host,
		Port:     o.Port,
		Username: o.User,
		Password: o.Password,
		Vhost:    o.VirtualHost,
	}.String()
}

func (o Options) amqpConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	if o.ClientName != "" {
		props.SetClientConnectionName(o.ClientName)
	}
	return amqp.Config{
		Vhost:      o.VirtualHost,
		Heartbeat:  o.Heartbeat,
		Properties: props,
	}
}

// Option configures a Pool
type Option func(*poolConfig)

type poolConfig struct {
	logger     *slog.Logger
	serializer serialization.Serializer
	sink       ExceptionSink
	dial       rabbitmq.Dialer
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *poolConfig) {
		cfg.logger = logger
	}
}

// WithSerializer replaces the JSON serializer used for structured payloads
func WithSerializer(s serialization.Serializer) Option {
	return func(cfg *poolConfig) {
		cfg.serializer = s
	}
}

// WithExceptionSink sets the pool-wide receiver of delivery failures
func WithExceptionSink(sink ExceptionSink) Option {
	return func(cfg *poolConfig) {
		cfg.sink = sink
	}
}

func withDialer(dial rabbitmq.Dialer) Option {
	return func(cfg *poolConfig) {
		cfg.dial = dial
	}
}
