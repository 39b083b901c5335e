// Package pipeline wires the annotation stages to the broker.
//
// A Consumer long-polls one queue and hands each delivery to a Handler in one
// of a fixed number of slots, extending the delivery lease while the handler
// runs. A nil handler error acknowledges the message; validation and not-found
// errors dead-letter it; anything else leaves it for redelivery after the
// visibility timeout. Handlers therefore do their work, commit it, and only
// then return, so every stage tolerates being run twice for the same message.
//
// Stages:
//   - Submitter: upload-completed signal to job record plus processing request.
//   - Processor: claim, download, annotate, upload, complete, fan out.
//   - Notifier: result-ready to a user notification.
//   - Archiver: free-tier results move from hot storage to the vault.
//   - Restorer: tier upgrade to vault retrievals for the user's archived jobs.
//   - Thawer: finished retrievals copied back into hot storage.
//
// The Reaper runs alongside the Processor and re-queues jobs whose claimant
// stopped heartbeating.
package pipeline
