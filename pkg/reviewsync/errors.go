// Package reviewsync is the client-side engine for the review and alarm
// surface: a submission-scoped thread cache with optimistic like state, a
// supervised push channel, an unread counter that reconciles against the
// server, and the classifier backing the notification panel.
package reviewsync

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers malformed input rejected before or by the server.
	ErrValidation = errors.New("reviewsync: validation failed")
	// ErrDepthExceeded marks a reply aimed at a node that is itself a reply.
	ErrDepthExceeded = errors.New("reviewsync: reply depth exceeded")
	// ErrNotAuthor marks an edit or delete attempted by a non-author.
	ErrNotAuthor = errors.New("reviewsync: viewer is not the author")
	// ErrNotFound marks operations against a comment or submission that no longer exists.
	ErrNotFound = errors.New("reviewsync: resource not found")
	// ErrTransport covers network-level and unexpected server failures.
	ErrTransport = errors.New("reviewsync: transport failure")
	// ErrAlreadySatisfied marks a duplicate like or unlike. Callers treat it
	// as success and reconcile by refetching.
	ErrAlreadySatisfied = errors.New("reviewsync: state already satisfied")
	// ErrUnauthorized marks a rejected or expired credential.
	ErrUnauthorized = errors.New("reviewsync: unauthorized")
)

// APIError carries the HTTP status and the server's error code alongside the
// taxonomy sentinel it maps to.
type APIError struct {
	StatusCode int
	Code       string
	sentinel   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reviewsync: server returned %d (%s)", e.StatusCode, e.Code)
}

// Unwrap lets errors.Is match the taxonomy sentinel.
func (e *APIError) Unwrap() error {
	return e.sentinel
}

// classifyResponse maps a non-2xx response onto the error taxonomy. The
// already_liked and not_liked conflict bodies are the recognized non-error
// outcomes; everything else unexpected lands on ErrTransport.
func classifyResponse(statusCode int, code string) error {
	sentinel := ErrTransport
	switch statusCode {
	case 400:
		sentinel = ErrValidation
		if code == "depth_exceeded" {
			sentinel = ErrDepthExceeded
		}
	case 401:
		sentinel = ErrUnauthorized
	case 403:
		sentinel = ErrNotAuthor
	case 404:
		sentinel = ErrNotFound
	case 409:
		if code == "already_liked" || code == "not_liked" {
			sentinel = ErrAlreadySatisfied
		}
	}
	return &APIError{StatusCode: statusCode, Code: code, sentinel: sentinel}
}
