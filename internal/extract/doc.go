// Package extract turns voicemail transcripts into structured fields using a
// local language model.
package extract
