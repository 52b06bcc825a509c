// Package queue persists inbound voicemail items and their processing state
// in SQLite.
package queue
