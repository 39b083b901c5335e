// Package notifications tells job owners that their results are ready.
//
// NewService returns an ntfy-backed implementation when a topic is configured
// and a noop otherwise. The ntfy request forwards the message to the owner's
// email address through the Email header.
package notifications
