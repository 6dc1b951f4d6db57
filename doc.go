// Package mqpool is a RabbitMQ client pool. One lazily dialed connection
// is shared by a bounded set of reusable publish channels and a single
// subscribe channel that carries every consumer registration with a
// prefetch of one.
//
// Messages are serialized by type: []byte travels as
// application/octet-stream, string as text/plain and everything else as
// application/json. Subscribers decode deliveries back into the handler's
// type; a handler result of true acks the delivery while false or an error
// requeues it.
//
// Delayed delivery uses broker TTL and dead-lettering: a queue declared
// with a delay queue gets a companion that routes expired messages back to
// the primary routing key, and PublishDelayed sends to the delay routing
// key with a TTL.
//
// Exchanges, queues and routes can be described in an XML or TOML document
// and loaded with the config package.
package mqpool
