package reviewsync

import (
	"context"
	"errors"
	"strings"
)

var (
	errMissingClient = errors.New("reviewsync: api client required")
	errMissingCache  = errors.New("reviewsync: thread cache required")
)

// Commands is the mutation layer over the submission-scoped thread. Every
// successful mutation invalidates the cached thread for exactly the affected
// submission and no other.
type Commands struct {
	client *APIClient
	cache  *ThreadCache
}

// NewCommands constructs the command layer.
func NewCommands(client *APIClient, cache *ThreadCache) (*Commands, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if cache == nil {
		return nil, errMissingCache
	}
	return &Commands{client: client, cache: cache}, nil
}

// AddRootComment creates a depth-0 comment, optionally anchored to a source
// line. A nil lineNumber means the comment applies to the whole submission.
func (cmd *Commands) AddRootComment(ctx context.Context, submissionID, content string, lineNumber *int) (Comment, error) {
	if strings.TrimSpace(content) == "" {
		return Comment{}, ErrValidation
	}
	created, err := cmd.client.AddComment(ctx, submissionID, content, nil, lineNumber)
	if err != nil {
		return Comment{}, err
	}
	cmd.cache.Invalidate(submissionID)
	return created, nil
}

// AddReply creates a depth-1 comment under a root. The depth bound is
// asserted here against the cached tree before the request goes out; the
// server re-checks regardless.
func (cmd *Commands) AddReply(ctx context.Context, submissionID, parentID, content string) (Comment, error) {
	if strings.TrimSpace(content) == "" {
		return Comment{}, ErrValidation
	}
	if parent, depth, ok := cmd.cache.Lookup(submissionID, parentID); ok {
		if depth > 0 || !parent.IsRoot() {
			return Comment{}, ErrDepthExceeded
		}
	}
	created, err := cmd.client.AddComment(ctx, submissionID, content, &parentID, nil)
	if err != nil {
		return Comment{}, err
	}
	cmd.cache.Invalidate(created.SubmissionID)
	return created, nil
}

// EditComment replaces a comment's content. The server enforces authorship;
// a rejection surfaces as ErrNotAuthor and leaves the cache untouched.
func (cmd *Commands) EditComment(ctx context.Context, commentID, content string) (Comment, error) {
	if strings.TrimSpace(content) == "" {
		return Comment{}, ErrValidation
	}
	updated, err := cmd.client.EditComment(ctx, commentID, content)
	if err != nil {
		return Comment{}, err
	}
	cmd.cache.Invalidate(updated.SubmissionID)
	return updated, nil
}

// DeleteComment removes a comment and eagerly refetches the owning thread,
// because deleting a root changes descendant visibility in ways cheaper to
// re-derive than to patch locally.
func (cmd *Commands) DeleteComment(ctx context.Context, submissionID, commentID string) error {
	if err := cmd.client.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	cmd.cache.Invalidate(submissionID)
	if _, err := cmd.cache.Refresh(ctx, submissionID); err != nil {
		// The delete itself succeeded; the next read repopulates the cache.
		return nil
	}
	return nil
}
