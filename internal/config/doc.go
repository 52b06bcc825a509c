// Package config loads, normalizes, and validates voicebox configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VOICEBOX_MAIL_PASSWORD. The Config type centralizes every knob the daemon
// and CLI need, from mailbox credentials to the Whisper model pair.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
