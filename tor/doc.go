// Package tor routes scraper traffic through a Tor SOCKS5 proxy and asks the
// Tor controller for a fresh exit identity when the target starts refusing
// requests.
//
// Client builds HTTP transports that dial through the SOCKS port. Controller
// sends SIGNAL NEWNYM through tornago's control client, and Rotator wraps it
// with the settle delay Tor needs before new circuits are usable.
// EmbeddedTor optionally launches a private daemon through tornago.
package tor
