// Package rabbitmq holds the broker-facing plumbing of the pool.
//
// This package includes:
//   - ConnectionManager: one lazily dialed connection with background recovery
//   - ChannelPool: a bounded set of reusable publish channels
//   - Publisher: ordered publishing on one borrowed channel per call
//   - TopologyManager: exchange and queue declaration with dead-letter delay queues
//   - Consumer: subscriptions sharing one prefetch-limited channel
//   - Dispatcher: per-delivery ack or requeue driven by handler results
//
// Broker types are reached through the Channel and Connection interfaces so
// tests can run against an in-memory broker.
package rabbitmq
