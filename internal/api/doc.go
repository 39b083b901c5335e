// Package api exposes the gin HTTP surface: the upload-completed signal, job
// status for owners, and the tier-upgrade trigger. Handlers stay thin and
// delegate to the pipeline stages and stores.
package api
