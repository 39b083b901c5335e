// Package jobs persists annotation job records in SQLite.
//
// A record is created PENDING by the submission stage and then only moves
// forward: the processing stage claims it (RUNNING) and completes it
// (COMPLETED, with complete_time written in the same statement), and the
// archive, restore and retrieval-completion stages move its storage status from
// absent to ARCHIVED to RESTORED. Every transition is a conditional UPDATE so
// racing or redelivered stage workers observe "already done" instead of
// regressing a record. Records are never deleted here.
package jobs
