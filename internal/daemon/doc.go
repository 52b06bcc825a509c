// Package daemon wires the store, pipeline, mailbox poller, and HTTP API
// into a single-instance background process.
package daemon
