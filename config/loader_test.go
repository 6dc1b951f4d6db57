package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `<?xml version="1.0" encoding="utf-8"?>
<MQ>
  <Exchange>
    <Key exchange="orders.topic" type="topic" durable="TRUE" autoDelete="1">
      <Arguments key="alternate-exchange" value="unrouted"/>
      <Arguments key="alternate-exchange" value="ignored"/>
      <Arguments key="" value="skipped"/>
    </Key>
    <Key exchange="amq.direct"/>
  </Exchange>
  <Queue>
    <Key queue="orders" routingKey="new" delayQueue="orders.delay" delayRoutingKey="new.delay">
      <QueueArguments key="x-max-length" value="1000"/>
      <BindArguments key="x-match" value="all"/>
    </Key>
    <Key queue="audit.{0}" routingKey="audit.{0}" exchange="orders.topic" isQueueParam="true" isRoutingKeyParam="1" exclusive="yes"/>
  </Queue>
  <PubMsg>
    <Key name="Order" routingKey="new" delayRoutingKey="new.delay"/>
    <Key name="Audit" exchange="orders.topic" routingKey="audit.{0}" isRoutingKeyParam="true"/>
  </PubMsg>
  <SubConfig>
    <Key name="Order" queue="orders"/>
    <Key name="Audit" queue="audit.{0}" isQueueParam="True"/>
  </SubConfig>
</MQ>`

func TestLoad(t *testing.T) {
	t.Run("parses every section", func(t *testing.T) {
		cfg, err := Load(strings.NewReader(sampleDocument))
		require.NoError(t, err)

		exchanges := cfg.Exchanges()
		require.Len(t, exchanges, 2)
		assert.Equal(t, "orders.topic", exchanges[0].Name)
		assert.Equal(t, KindTopic, exchanges[0].Kind)
		assert.True(t, exchanges[0].Durable)
		assert.True(t, exchanges[0].AutoDelete)
		assert.Equal(t, Arguments{"alternate-exchange": "unrouted"}, exchanges[0].Arguments)

		assert.Equal(t, NewExchange("amq.direct"), exchanges[1])

		queues := cfg.Queues()
		require.Len(t, queues, 2)
		orders := queues[0]
		assert.Equal(t, "orders", orders.Name)
		assert.Equal(t, "new", orders.RoutingKey)
		assert.Equal(t, "orders.delay", orders.DelayQueue)
		assert.Equal(t, "new.delay", orders.DelayRoutingKey)
		assert.Equal(t, DefaultExchange, orders.Exchange)
		assert.True(t, orders.Durable)
		assert.Equal(t, Arguments{"x-max-length": "1000"}, orders.QueueArguments)
		assert.Equal(t, Arguments{"x-match": "all"}, orders.BindArguments)
		assert.True(t, orders.HasDelayQueue())

		audit := queues[1]
		assert.Equal(t, "orders.topic", audit.Exchange)
		assert.True(t, audit.IsQueueParam)
		assert.True(t, audit.IsRoutingKeyParam)
		assert.False(t, audit.Exclusive)
		assert.False(t, audit.HasDelayQueue())

		order, ok := cfg.PubRoute("Order")
		require.True(t, ok)
		assert.Equal(t, PubRoute{Name: "Order", Exchange: DefaultExchange, RoutingKey: "new", DelayRoutingKey: "new.delay"}, order)

		sub, ok := cfg.SubRoute("Audit")
		require.True(t, ok)
		assert.Equal(t, "audit.eu", sub.Parameterize("eu").Queue)

		_, ok = cfg.SubRoute("missing")
		assert.False(t, ok)
	})

	t.Run("delay routing key is ignored without delay queue", func(t *testing.T) {
		cfg, err := Load(strings.NewReader(`<MQ><Queue><Key queue="q" delayRoutingKey="d"/></Queue></MQ>`))
		require.NoError(t, err)

		q, ok := cfg.Queue("q")
		require.True(t, ok)
		assert.Empty(t, q.DelayRoutingKey)
	})

	t.Run("missing root fails", func(t *testing.T) {
		_, err := Load(strings.NewReader(""))
		assert.ErrorIs(t, err, ErrMissingRoot)
	})

	t.Run("malformed document fails", func(t *testing.T) {
		_, err := Load(strings.NewReader("<MQ><Queue>"))
		assert.Error(t, err)
	})
}

func TestLoadKeyErrors(t *testing.T) {
	cases := map[string]struct {
		doc    string
		target error
		name   string
	}{
		"duplicate exchange": {
			doc:    `<MQ><Exchange><Key exchange="a"/><Key exchange="a"/></Exchange></MQ>`,
			target: ErrDuplicateKey,
			name:   `"a"`,
		},
		"duplicate queue across section aliases": {
			doc:    `<MQ><Queue><Key queue="q"/></Queue><QueueConfig><Key queue="q"/></QueueConfig></MQ>`,
			target: ErrDuplicateKey,
			name:   `"q"`,
		},
		"duplicate pub": {
			doc:    `<MQ><Pub><Key name="p"/><Key name="p"/></Pub></MQ>`,
			target: ErrDuplicateKey,
			name:   `"p"`,
		},
		"duplicate sub": {
			doc:    `<MQ><Sub><Key name="s" queue="q"/><Key name="s" queue="q"/></Sub></MQ>`,
			target: ErrDuplicateKey,
			name:   `"s"`,
		},
		"missing exchange name": {
			doc:    `<MQ><Exchange><Key type="topic"/></Exchange></MQ>`,
			target: ErrMissingKey,
			name:   "exchange",
		},
		"missing queue name": {
			doc:    `<MQ><Queue><Key routingKey="r"/></Queue></MQ>`,
			target: ErrMissingKey,
			name:   "queue",
		},
		"missing pub name": {
			doc:    `<MQ><Pub><Key routingKey="r"/></Pub></MQ>`,
			target: ErrMissingKey,
			name:   "pub",
		},
		"missing sub queue": {
			doc:    `<MQ><Sub><Key name="s"/></Sub></MQ>`,
			target: ErrMissingKey,
			name:   `"s"`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(strings.NewReader(tc.doc))
			assert.Nil(t, cfg)
			require.ErrorIs(t, err, tc.target)
			assert.Contains(t, err.Error(), tc.name)
		})
	}
}

func TestBooleanAttributes(t *testing.T) {
	for _, value := range []string{"false", "0", "no", "", "yes", "truthy"} {
		t.Run("keeps defaults for "+value, func(t *testing.T) {
			doc := `<MQ><Queue><Key queue="q" durable="` + value + `" exclusive="` + value + `" autoDelete="` + value + `"/></Queue></MQ>`
			cfg, err := Load(strings.NewReader(doc))
			require.NoError(t, err)

			q, _ := cfg.Queue("q")
			assert.True(t, q.Durable)
			assert.False(t, q.Exclusive)
			assert.False(t, q.AutoDelete)
		})
	}

	for _, value := range []string{"true", "TRUE", "True", "1"} {
		t.Run("accepts "+value, func(t *testing.T) {
			doc := `<MQ><Queue><Key queue="q" exclusive="` + value + `"/></Queue></MQ>`
			cfg, err := Load(strings.NewReader(doc))
			require.NoError(t, err)

			q, _ := cfg.Queue("q")
			assert.True(t, q.Exclusive)
		})
	}
}

func TestConfigHandsOutCopies(t *testing.T) {
	cfg, err := Load(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	exchanges := cfg.Exchanges()
	exchanges[0].Name = "changed"
	exchanges[0].Arguments["alternate-exchange"] = "changed"

	q, _ := cfg.Queue("orders")
	q.QueueArguments["x-max-length"] = "1"
	q.RoutingKey = "changed"

	again, ok := cfg.Exchange("orders.topic")
	require.True(t, ok)
	assert.Equal(t, "unrouted", again.Arguments["alternate-exchange"])

	q2, _ := cfg.Queue("orders")
	assert.Equal(t, "new", q2.RoutingKey)
	assert.Equal(t, "1000", q2.QueueArguments["x-max-length"])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("xml by default", func(t *testing.T) {
		path := filepath.Join(dir, "mq-config.xml")
		require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Queues(), 2)
	})

	t.Run("toml by extension", func(t *testing.T) {
		path := filepath.Join(dir, "mq-config.toml")
		require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Queues(), 1)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "absent.xml"))
		assert.Error(t, err)
	})
}
