// Package saga drives the multi-step verification and creation workflows.
// Each step persists its outcome before the next runs, so a crash between
// steps leaves a record the workflow can be resumed or retried from.
package saga

import (
	"errors"
	"fmt"
)

// Kind classifies workflow failures for callers that map them to responses
// or retry decisions.
type Kind string

const (
	// KindValidation: the request itself is malformed. Nothing was persisted.
	KindValidation Kind = "validation"
	// KindUpstreamAuth: a platform rejected the credential. The credential
	// is consumed; the subject must restart the authorization flow.
	KindUpstreamAuth Kind = "upstream_auth"
	// KindUpstreamUnavailable: a platform could not be reached or answered
	// with a fault. Retryable with a fresh credential.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindMetadataPublish: the content store refused the badge document.
	// CreateTask fails here before any record exists.
	KindMetadataPublish Kind = "metadata_publish"
	// KindChain: a chain read or link confirmation failed.
	KindChain Kind = "chain"
	// KindChainSubmit: the task record exists but its chain submit failed.
	// RecordID carries the task so the caller can retry just that step.
	KindChainSubmit Kind = "chain_submit"
	// KindAlreadyLinked: the subject already holds a non-retryable link for
	// the platform. Expected under concurrency, not a fault.
	KindAlreadyLinked Kind = "already_linked"
	// KindNotFound: no record for the given key.
	KindNotFound Kind = "not_found"
	// KindInvalidTransition: the record exists but its status forbids the
	// requested move.
	KindInvalidTransition Kind = "invalid_transition"
	// KindNotQualified: the wallet does not meet the task's threshold.
	KindNotQualified Kind = "not_qualified"
	// KindInternal: everything else.
	KindInternal Kind = "internal"
)

// Error is the workflow failure type. RecordID is set when a durable record
// survived the failure and identifies the retry target.
type Error struct {
	Kind     Kind
	Message  string
	RecordID string
	Err      error
}

func (e *Error) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s: %s (record %s)", e.Kind, e.Message, e.RecordID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from a workflow error, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		return sagaErr.Kind
	}
	return KindInternal
}
