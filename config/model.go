package config

import (
	"fmt"
	"strings"
)

// Exchange kinds supported by the pool
const (
	KindDirect = "direct"
	KindFanout = "fanout"
	KindTopic  = "topic"
)

// DefaultExchange is used whenever an exchange name is left empty
const DefaultExchange = "amq.direct"

// Dead-letter arguments set on a companion delay queue
const (
	ArgDeadLetterExchange   = "x-dead-letter-exchange"
	ArgDeadLetterRoutingKey = "x-dead-letter-routing-key"
)

// Arguments holds broker arguments for declares and bindings
type Arguments map[string]interface{}

// Copy returns an independent copy, nil stays nil
func (a Arguments) Copy() Arguments {
	if a == nil {
		return nil
	}
	c := make(Arguments, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Exchange describes an exchange declaration
type Exchange struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Arguments  Arguments
}

// NewExchange returns an exchange definition carrying the defaults
func NewExchange(name string) Exchange {
	return Exchange{
		Name:    name,
		Kind:    KindDirect,
		Durable: true,
	}
}

// Copy returns a deep copy
func (e Exchange) Copy() Exchange {
	e.Arguments = e.Arguments.Copy()
	return e
}

// Queue describes a queue declaration, its binding and an optional
// companion delay queue.
type Queue struct {
	Name            string
	RoutingKey      string
	DelayQueue      string
	DelayRoutingKey string
	Durable         bool
	Exclusive       bool
	AutoDelete      bool
	Exchange        string
	QueueArguments  Arguments
	BindArguments   Arguments

	// IsQueueParam marks Name as a template filled by Parameterize
	IsQueueParam bool
	// IsRoutingKeyParam marks RoutingKey and DelayRoutingKey as templates
	IsRoutingKeyParam bool
}

// NewQueue returns a queue definition carrying the defaults
func NewQueue(name string) Queue {
	return Queue{
		Name:     name,
		Durable:  true,
		Exchange: DefaultExchange,
	}
}

// Copy returns a deep copy
func (q Queue) Copy() Queue {
	q.QueueArguments = q.QueueArguments.Copy()
	q.BindArguments = q.BindArguments.Copy()
	return q
}

// HasDelayQueue reports whether a companion dead-letter queue must be
// declared next to the primary queue. The delay queue must differ from the
// primary queue and its routing key must differ from the primary one,
// unless both routing keys are empty.
func (q Queue) HasDelayQueue() bool {
	if q.DelayQueue == "" || q.DelayQueue == q.Name {
		return false
	}
	if q.RoutingKey != q.DelayRoutingKey {
		return true
	}
	return q.RoutingKey == "" && q.DelayRoutingKey == ""
}

// DelayQueueArguments returns the dead-letter arguments routing expired
// messages of the delay queue back to the primary queue.
func (q Queue) DelayQueueArguments() Arguments {
	return Arguments{
		ArgDeadLetterExchange:   q.Exchange,
		ArgDeadLetterRoutingKey: q.RoutingKey,
	}
}

// Parameterize fills the queue name and routing keys when they are marked
// as templates. Placeholders are written {0}, {1}, ...
func (q Queue) Parameterize(queueArgs []interface{}, routingKeyArgs []interface{}) Queue {
	q = q.Copy()
	if q.IsQueueParam {
		q.Name = format(q.Name, queueArgs)
		q.DelayQueue = format(q.DelayQueue, queueArgs)
	}
	if q.IsRoutingKeyParam {
		q.RoutingKey = format(q.RoutingKey, routingKeyArgs)
		q.DelayRoutingKey = format(q.DelayRoutingKey, routingKeyArgs)
	}
	return q
}

// PubRoute maps a logical message name to an exchange and routing keys
type PubRoute struct {
	Name              string
	Exchange          string
	RoutingKey        string
	DelayRoutingKey   string
	IsRoutingKeyParam bool
}

// NewPubRoute returns a publish route carrying the defaults
func NewPubRoute(name string) PubRoute {
	return PubRoute{Name: name, Exchange: DefaultExchange}
}

// Copy returns a copy
func (p PubRoute) Copy() PubRoute {
	return p
}

// Parameterize fills the routing keys when they are marked as templates
func (p PubRoute) Parameterize(args ...interface{}) PubRoute {
	if p.IsRoutingKeyParam {
		p.RoutingKey = format(p.RoutingKey, args)
		p.DelayRoutingKey = format(p.DelayRoutingKey, args)
	}
	return p
}

// SubRoute maps a logical message name to the queue it is consumed from
type SubRoute struct {
	Name         string
	Queue        string
	IsQueueParam bool
}

// Copy returns a copy
func (s SubRoute) Copy() SubRoute {
	return s
}

// Parameterize fills the queue name when it is marked as a template
func (s SubRoute) Parameterize(args ...interface{}) SubRoute {
	if s.IsQueueParam {
		s.Queue = format(s.Queue, args)
	}
	return s
}

func format(template string, args []interface{}) string {
	if template == "" || len(args) == 0 {
		return template
	}
	pairs := make([]string, 0, len(args)*2)
	for i, arg := range args {
		pairs = append(pairs, fmt.Sprintf("{%d}", i), fmt.Sprint(arg))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
