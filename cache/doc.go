// Package cache provides the response cache for model generations.
//
// It provides a Cache interface with an LRU+TTL memory implementation,
// SHA-256 request fingerprints that deliberately ignore which endpoint
// produced the text, TTL policies, and a two-tier cache for putting a
// persistent store behind the memory tier.
package cache
