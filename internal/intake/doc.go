// Package intake pulls voicemail emails from a POP3 mailbox and feeds new
// items into the processing pipeline.
package intake
