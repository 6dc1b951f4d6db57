package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueHasDelayQueue(t *testing.T) {
	cases := []struct {
		name  string
		queue Queue
		want  bool
	}{
		{"no delay queue", Queue{Name: "q", RoutingKey: "r"}, false},
		{"delay queue equals primary", Queue{Name: "q", DelayQueue: "q", RoutingKey: "r", DelayRoutingKey: "d"}, false},
		{"distinct routing keys", Queue{Name: "q", DelayQueue: "q.delay", RoutingKey: "r", DelayRoutingKey: "d"}, true},
		{"both routing keys empty", Queue{Name: "q", DelayQueue: "q.delay"}, true},
		{"same routing key", Queue{Name: "q", DelayQueue: "q.delay", RoutingKey: "r", DelayRoutingKey: "r"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.queue.HasDelayQueue())
		})
	}
}

func TestDelayQueueArguments(t *testing.T) {
	q := NewQueue("orders")
	q.RoutingKey = "new"

	assert.Equal(t, Arguments{
		"x-dead-letter-exchange":    "amq.direct",
		"x-dead-letter-routing-key": "new",
	}, q.DelayQueueArguments())
}

func TestParameterize(t *testing.T) {
	t.Run("queue templates", func(t *testing.T) {
		q := Queue{
			Name:              "jobs.{0}",
			DelayQueue:        "jobs.{0}.delay",
			RoutingKey:        "{0}.{1}",
			DelayRoutingKey:   "{0}.{1}.delay",
			IsQueueParam:      true,
			IsRoutingKeyParam: true,
			QueueArguments:    Arguments{"k": "v"},
		}

		got := q.Parameterize([]interface{}{"eu"}, []interface{}{"eu", 7})
		assert.Equal(t, "jobs.eu", got.Name)
		assert.Equal(t, "jobs.eu.delay", got.DelayQueue)
		assert.Equal(t, "eu.7", got.RoutingKey)
		assert.Equal(t, "eu.7.delay", got.DelayRoutingKey)

		got.QueueArguments["k"] = "changed"
		assert.Equal(t, "v", q.QueueArguments["k"])
	})

	t.Run("flags off leave names untouched", func(t *testing.T) {
		q := Queue{Name: "jobs.{0}", RoutingKey: "{0}"}
		got := q.Parameterize([]interface{}{"eu"}, []interface{}{"eu"})
		assert.Equal(t, "jobs.{0}", got.Name)
		assert.Equal(t, "{0}", got.RoutingKey)

		p := PubRoute{RoutingKey: "{0}"}
		assert.Equal(t, "{0}", p.Parameterize("x").RoutingKey)
	})

	t.Run("pub route", func(t *testing.T) {
		p := PubRoute{RoutingKey: "audit.{0}", DelayRoutingKey: "audit.{0}.delay", IsRoutingKeyParam: true}
		got := p.Parameterize("us")
		assert.Equal(t, "audit.us", got.RoutingKey)
		assert.Equal(t, "audit.us.delay", got.DelayRoutingKey)
	})
}
