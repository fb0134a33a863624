package reviewsync

import (
	"context"
	"errors"
)

// LikeTracker owns the optimistic like state over the cached thread. The flip
// is applied synchronously before the network call so the control feels
// instantaneous; a failed call runs the compensating flip recorded at
// mutation time, and a duplicate like is reconciled by refetch rather than
// treated as a failure.
type LikeTracker struct {
	client *APIClient
	cache  *ThreadCache
}

// NewLikeTracker constructs a tracker over the shared thread cache.
func NewLikeTracker(client *APIClient, cache *ThreadCache) (*LikeTracker, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if cache == nil {
		return nil, errMissingCache
	}
	return &LikeTracker{client: client, cache: cache}, nil
}

// Toggle flips the viewer's like on one comment. The direction is read from
// the cached viewer flag: unliked comments get a like, liked comments get an
// unlike.
func (lt *LikeTracker) Toggle(ctx context.Context, submissionID, commentID string) error {
	current, _, ok := lt.cache.Lookup(submissionID, commentID)
	if !ok {
		return ErrNotFound
	}

	if current.ViewerHasLiked {
		return lt.unlike(ctx, submissionID, commentID)
	}
	return lt.like(ctx, submissionID, commentID)
}

func (lt *LikeTracker) like(ctx context.Context, submissionID, commentID string) error {
	lt.cache.mutate(submissionID, commentID, func(c *Comment) {
		c.ViewerHasLiked = true
		c.LikeCount++
	})

	err := lt.client.Like(ctx, commentID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadySatisfied) {
		// The server already held the like. Reconcile the count by refetch
		// instead of keeping the speculative increment.
		_, refreshErr := lt.cache.Refresh(ctx, submissionID)
		return refreshErr
	}

	lt.cache.mutate(submissionID, commentID, func(c *Comment) {
		c.ViewerHasLiked = false
		if c.LikeCount > 0 {
			c.LikeCount--
		}
	})
	return err
}

func (lt *LikeTracker) unlike(ctx context.Context, submissionID, commentID string) error {
	// The decrement floors at zero; the compensating action must mirror what
	// actually happened, so record whether the count moved.
	decremented := false
	lt.cache.mutate(submissionID, commentID, func(c *Comment) {
		c.ViewerHasLiked = false
		if c.LikeCount > 0 {
			c.LikeCount--
			decremented = true
		}
	})

	err := lt.client.Unlike(ctx, commentID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadySatisfied) {
		_, refreshErr := lt.cache.Refresh(ctx, submissionID)
		return refreshErr
	}

	lt.cache.mutate(submissionID, commentID, func(c *Comment) {
		c.ViewerHasLiked = true
		if decremented {
			c.LikeCount++
		}
	})
	return err
}
