// Package api defines the wire types shared between the daemon's HTTP
// surface and the CLI, plus the client the CLI uses to reach the daemon.
package api
