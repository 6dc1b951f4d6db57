package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingKey is returned when an entry lacks its primary key attribute
	ErrMissingKey = errors.New("config: missing key")
	// ErrDuplicateKey is returned when a primary key appears twice in a section
	ErrDuplicateKey = errors.New("config: duplicate key")
	// ErrMissingRoot is returned when the document has no root element
	ErrMissingRoot = errors.New("config: missing document root")
)

// Reader exposes the loaded definitions. Every accessor hands out
// independent copies.
type Reader interface {
	Exchanges() []Exchange
	Queues() []Queue
	Exchange(name string) (Exchange, bool)
	Queue(name string) (Queue, bool)
	PubRoute(name string) (PubRoute, bool)
	SubRoute(name string) (SubRoute, bool)
}

// Config holds the named collections parsed from a declarative document
type Config struct {
	exchanges     []Exchange
	exchangeIndex map[string]int
	queues        []Queue
	queueIndex    map[string]int
	pubRoutes     map[string]PubRoute
	subRoutes     map[string]SubRoute
}

var _ Reader = (*Config)(nil)

func newConfig() *Config {
	return &Config{
		exchangeIndex: make(map[string]int),
		queueIndex:    make(map[string]int),
		pubRoutes:     make(map[string]PubRoute),
		subRoutes:     make(map[string]SubRoute),
	}
}

// LoadFile loads a document from disk. Files ending in .toml are parsed
// as TOML, everything else as XML.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(f)
	}
	return Load(f)
}

// Load parses an XML document:
//
//	<MQ>
//	  <Exchange>
//	    <Key exchange="orders" type="topic" durable="true">
//	      <Arguments key="alternate-exchange" value="unrouted"/>
//	    </Key>
//	  </Exchange>
//	  <Queue>
//	    <Key queue="orders" routingKey="new" delayQueue="orders.delay" delayRoutingKey="new.delay"/>
//	  </Queue>
//	  <Pub><Key name="Order" routingKey="new" delayRoutingKey="new.delay"/></Pub>
//	  <Sub><Key name="Order" queue="orders"/></Sub>
//	</MQ>
func Load(r io.Reader) (*Config, error) {
	var root xmlElement
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingRoot
		}
		return nil, fmt.Errorf("config: parse document: %w", err)
	}
	return build(root.node())
}

type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []xmlElement `xml:",any"`
}

func (e xmlElement) node() node {
	n := node{
		name:  e.XMLName.Local,
		attrs: make(map[string]string, len(e.Attrs)),
	}
	for _, a := range e.Attrs {
		if _, ok := n.attrs[a.Name.Local]; !ok {
			n.attrs[a.Name.Local] = a.Value
		}
	}
	for _, c := range e.Children {
		n.children = append(n.children, c.node())
	}
	return n
}

// node is the format-independent shape of a document element
type node struct {
	name     string
	attrs    map[string]string
	children []node
}

func (n node) attr(name string) string {
	return n.attrs[name]
}

func (n node) boolAttr(name string, def bool) bool {
	return parseBool(n.attrs[name], def)
}

// parseBool accepts case-insensitive "true" or "1"; anything else keeps def
func parseBool(s string, def bool) bool {
	if strings.EqualFold(s, "true") || s == "1" {
		return true
	}
	return def
}

func build(root node) (*Config, error) {
	cfg := newConfig()
	for _, section := range root.children {
		var err error
		switch section.name {
		case "Exchange", "ExchangeConfig":
			err = cfg.loadExchanges(section)
		case "Queue", "QueueConfig":
			err = cfg.loadQueues(section)
		case "Pub", "PubMsg", "PubConfig":
			err = cfg.loadPubRoutes(section)
		case "Sub", "SubMsg", "SubConfig":
			err = cfg.loadSubRoutes(section)
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) loadExchanges(section node) error {
	for _, item := range section.children {
		if item.name != "Key" {
			continue
		}
		name := item.attr("exchange")
		if name == "" {
			return fmt.Errorf("%w: exchange entry without exchange attribute", ErrMissingKey)
		}
		if _, ok := c.exchangeIndex[name]; ok {
			return fmt.Errorf("%w: exchange %q", ErrDuplicateKey, name)
		}

		e := NewExchange(name)
		if s := item.attr("type"); s != "" {
			e.Kind = s
		}
		e.Durable = item.boolAttr("durable", e.Durable)
		e.AutoDelete = item.boolAttr("autoDelete", e.AutoDelete)
		e.Arguments = arguments(item, "Arguments")

		c.exchangeIndex[name] = len(c.exchanges)
		c.exchanges = append(c.exchanges, e)
	}
	return nil
}

func (c *Config) loadQueues(section node) error {
	for _, item := range section.children {
		if item.name != "Key" {
			continue
		}
		name := item.attr("queue")
		if name == "" {
			return fmt.Errorf("%w: queue entry without queue attribute", ErrMissingKey)
		}
		if _, ok := c.queueIndex[name]; ok {
			return fmt.Errorf("%w: queue %q", ErrDuplicateKey, name)
		}

		q := NewQueue(name)
		q.RoutingKey = item.attr("routingKey")
		if s := item.attr("delayQueue"); s != "" {
			q.DelayQueue = s
			q.DelayRoutingKey = item.attr("delayRoutingKey")
		}
		if s := item.attr("exchange"); s != "" {
			q.Exchange = s
		}
		q.Durable = item.boolAttr("durable", q.Durable)
		q.Exclusive = item.boolAttr("exclusive", q.Exclusive)
		q.AutoDelete = item.boolAttr("autoDelete", q.AutoDelete)
		q.IsQueueParam = item.boolAttr("isQueueParam", q.IsQueueParam)
		q.IsRoutingKeyParam = item.boolAttr("isRoutingKeyParam", q.IsRoutingKeyParam)
		q.QueueArguments = arguments(item, "QueueArguments")
		q.BindArguments = arguments(item, "BindArguments")

		c.queueIndex[name] = len(c.queues)
		c.queues = append(c.queues, q)
	}
	return nil
}

func (c *Config) loadPubRoutes(section node) error {
	for _, item := range section.children {
		if item.name != "Key" {
			continue
		}
		name := item.attr("name")
		if name == "" {
			return fmt.Errorf("%w: pub entry without name attribute", ErrMissingKey)
		}
		if _, ok := c.pubRoutes[name]; ok {
			return fmt.Errorf("%w: pub %q", ErrDuplicateKey, name)
		}

		p := NewPubRoute(name)
		p.RoutingKey = item.attr("routingKey")
		p.DelayRoutingKey = item.attr("delayRoutingKey")
		if s := item.attr("exchange"); s != "" {
			p.Exchange = s
		}
		p.IsRoutingKeyParam = item.boolAttr("isRoutingKeyParam", p.IsRoutingKeyParam)

		c.pubRoutes[name] = p
	}
	return nil
}

func (c *Config) loadSubRoutes(section node) error {
	for _, item := range section.children {
		if item.name != "Key" {
			continue
		}
		name := item.attr("name")
		if name == "" {
			return fmt.Errorf("%w: sub entry without name attribute", ErrMissingKey)
		}
		if _, ok := c.subRoutes[name]; ok {
			return fmt.Errorf("%w: sub %q", ErrDuplicateKey, name)
		}
		queue := item.attr("queue")
		if queue == "" {
			return fmt.Errorf("%w: sub %q without queue attribute", ErrMissingKey, name)
		}

		c.subRoutes[name] = SubRoute{
			Name:         name,
			Queue:        queue,
			IsQueueParam: item.boolAttr("isQueueParam", false),
		}
	}
	return nil
}

// arguments collects key/value children named elem; the first occurrence
// of a key wins and entries with an empty key or value are skipped.
func arguments(item node, elem string) Arguments {
	var args Arguments
	for _, child := range item.children {
		if child.name != elem {
			continue
		}
		k, v := child.attr("key"), child.attr("value")
		if k == "" || v == "" {
			continue
		}
		if args == nil {
			args = make(Arguments)
		}
		if _, ok := args[k]; !ok {
			args[k] = v
		}
	}
	return args
}

// Exchanges returns copies of every exchange in document order
func (c *Config) Exchanges() []Exchange {
	out := make([]Exchange, 0, len(c.exchanges))
	for _, e := range c.exchanges {
		out = append(out, e.Copy())
	}
	return out
}

// Queues returns copies of every queue in document order
func (c *Config) Queues() []Queue {
	out := make([]Queue, 0, len(c.queues))
	for _, q := range c.queues {
		out = append(out, q.Copy())
	}
	return out
}

// Exchange looks up an exchange by name
func (c *Config) Exchange(name string) (Exchange, bool) {
	i, ok := c.exchangeIndex[name]
	if !ok {
		return Exchange{}, false
	}
	return c.exchanges[i].Copy(), true
}

// Queue looks up a queue by name
func (c *Config) Queue(name string) (Queue, bool) {
	i, ok := c.queueIndex[name]
	if !ok {
		return Queue{}, false
	}
	return c.queues[i].Copy(), true
}

// PubRoute looks up a publish route by message name
func (c *Config) PubRoute(name string) (PubRoute, bool) {
	p, ok := c.pubRoutes[name]
	return p.Copy(), ok
}

// SubRoute looks up a subscribe route by message name
func (c *Config) SubRoute(name string) (SubRoute, bool) {
	s, ok := c.subRoutes[name]
	return s.Copy(), ok
}
