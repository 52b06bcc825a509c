// Package pipeline coordinates per-item processing: transcription followed
// by field extraction, with terminal states persisted for every attempt.
package pipeline
