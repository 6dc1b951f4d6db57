package mqpool

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	t.Run("defaults apply when only the required settings are set", func(t *testing.T) {
		t.Setenv("MQPOOL_HOST", "rabbit.internal")
		t.Setenv("MQPOOL_USER", "svc")
		t.Setenv("MQPOOL_PASSWORD", "s3cret")

		opts, err := LoadOptions()
		require.NoError(t, err)

		assert.Equal(t, "rabbit.internal", opts.Host)
		assert.Equal(t, 5672, opts.Port)
		assert.Equal(t, "svc", opts.User)
		assert.Equal(t, "s3cret", opts.Password)
		assert.Equal(t, "/", opts.VirtualHost)
		assert.Equal(t, 3, opts.MaxPublishChannels)
		assert.Equal(t, 15*time.Second, opts.RecoveryInterval)
		assert.Equal(t, "mqpool", opts.ClientName)
		require.NoError(t, opts.Validate())
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("MQPOOL_HOST", "rabbit.internal")
		t.Setenv("MQPOOL_USER", "svc")
		t.Setenv("MQPOOL_PORT", "5673")
		t.Setenv("MQPOOL_VHOST", "orders")
		t.Setenv("MQPOOL_MAX_PUBLISH_CHANNELS", "8")
		t.Setenv("MQPOOL_RECOVERY_INTERVAL", "2s")
		t.Setenv("MQPOOL_HEARTBEAT", "30s")

		opts, err := LoadOptions()
		require.NoError(t, err)

		assert.Equal(t, 5673, opts.Port)
		assert.Equal(t, "orders", opts.VirtualHost)
		assert.Equal(t, 8, opts.MaxPublishChannels)
		assert.Equal(t, 2*time.Second, opts.RecoveryInterval)
		assert.Equal(t, 30*time.Second, opts.Heartbeat)
	})
}

func TestOptionsValidate(t *testing.T) {
	t.Run("required settings are reported together", func(t *testing.T) {
		opts := Options{Port: 70000}
		err := opts.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorContains(t, err, "host is required")
		assert.ErrorContains(t, err, "port 70000")
		assert.ErrorContains(t, err, "user is required")
	})

	t.Run("port bounds", func(t *testing.T) {
		for _, port := range []int{0, -1, 65535} {
			opts := Options{Host: "h", User: "u", Port: port}
			assert.ErrorIs(t, opts.Validate(), ErrInvalidArgument, "port %d", port)
		}
		opts := Options{Host: "h", User: "u", Port: 65534}
		assert.NoError(t, opts.Validate())
	})

	t.Run("tuning values fall back to defaults", func(t *testing.T) {
		opts := Options{Host: "h", User: "u", Port: 5672, MaxPublishChannels: -2}
		require.NoError(t, opts.Validate())
		assert.Equal(t, "/", opts.VirtualHost)
		assert.Equal(t, 3, opts.MaxPublishChannels)
		assert.Equal(t, 15*time.Second, opts.RecoveryInterval)
	})

	t.Run("url and connection config", func(t *testing.T) {
		opts := Options{Host: "rabbit", Port: 5673, User: "svc", Password: "pw", VirtualHost: "orders", ClientName: "billing"}

		uri, err := amqp.ParseURI(opts.url())
		require.NoError(t, err)
		assert.Equal(t, "rabbit", uri.Host)
		assert.Equal(t, 5673, uri.Port)
		assert.Equal(t, "svc", uri.Username)
		assert.Equal(t, "pw", uri.Password)
		assert.Equal(t, "orders", uri.Vhost)

		cfg := opts.amqpConfig()
		assert.Equal(t, "orders", cfg.Vhost)
		assert.Equal(t, "billing", cfg.Properties["connection_name"])
	})
}
