// Package config loads exchange, queue and route definitions from a
// declarative document.
//
// A document has four sections, each a list of Key entries:
//   - Exchange (or ExchangeConfig): exchanges keyed by their name
//   - Queue (or QueueConfig): queues, bindings and companion delay queues
//   - Pub (PubMsg, PubConfig): publish routes keyed by message name
//   - Sub (SubMsg, SubConfig): subscribe routes keyed by message name
//
// Documents are XML (Load) or TOML (LoadTOML). Definitions are handed out
// as copies, so callers may change them freely.
package config
