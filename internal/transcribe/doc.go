// Package transcribe wraps the Whisper CLI for voicemail audio, with a
// primary model and a one-shot fallback.
package transcribe
