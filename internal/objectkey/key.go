// Package objectkey parses and derives the storage keys shared by hot and cold
// storage: <prefix>/<user_id>/<job_id>~<filename>, with ".annot" and
// ".count.log" suffixes for the result and log artifacts.
package objectkey

import (
	"fmt"
	"strings"

	"gas/internal/services"
)

// Separator joins the job id and the original filename in the last key segment.
const Separator = "~"

const (
	// ResultSuffix marks the annotated output artifact.
	ResultSuffix = ".annot"
	// LogSuffix marks the run log artifact.
	LogSuffix = ".count.log"
)

// Key is a parsed storage key.
type Key struct {
	Prefix   string
	UserID   string
	JobID    string
	FileName string
}

// MalformedKeyError reports a key that lacks a required segment.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed object key %q: %s", e.Key, e.Reason)
}

// Is lets callers classify the error with services.ErrValidation.
func (e *MalformedKeyError) Is(target error) bool {
	return target == services.ErrValidation
}

// Parse splits a key of the form <prefix>/<user_id>/<job_id>~<filename>. The
// prefix may itself contain slashes; the filename is everything after the
// first separator and may contain further separators.
func Parse(key string) (Key, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return Key{}, &MalformedKeyError{Key: key, Reason: "empty key"}
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) < 3 {
		return Key{}, &MalformedKeyError{Key: key, Reason: "expected <prefix>/<user_id>/<job_id>~<filename>"}
	}
	last := segments[len(segments)-1]
	userID := segments[len(segments)-2]
	prefix := strings.Join(segments[:len(segments)-2], "/")
	if prefix == "" {
		return Key{}, &MalformedKeyError{Key: key, Reason: "missing prefix"}
	}
	if userID == "" {
		return Key{}, &MalformedKeyError{Key: key, Reason: "missing user id"}
	}
	jobID, fileName, ok := strings.Cut(last, Separator)
	if !ok {
		return Key{}, &MalformedKeyError{Key: key, Reason: "missing " + Separator + " separator"}
	}
	if jobID == "" {
		return Key{}, &MalformedKeyError{Key: key, Reason: "missing job id"}
	}
	if fileName == "" {
		return Key{}, &MalformedKeyError{Key: key, Reason: "missing filename"}
	}
	return Key{Prefix: prefix, UserID: userID, JobID: jobID, FileName: fileName}, nil
}

// New builds a key from its parts.
func New(prefix, userID, jobID, fileName string) Key {
	return Key{Prefix: strings.Trim(prefix, "/"), UserID: userID, JobID: jobID, FileName: fileName}
}

// String renders the key.
func (k Key) String() string {
	return k.Prefix + "/" + k.UserID + "/" + k.JobID + Separator + k.FileName
}

// BaseName is the last key segment, <job_id>~<filename>.
func (k Key) BaseName() string {
	return k.JobID + Separator + k.FileName
}

// Result is the key of the annotated output under prefix.
func (k Key) Result(prefix string) Key {
	return New(prefix, k.UserID, k.JobID, k.FileName+ResultSuffix)
}

// Log is the key of the run log under prefix.
func (k Key) Log(prefix string) Key {
	return New(prefix, k.UserID, k.JobID, k.FileName+LogSuffix)
}
