package reviewsync

import (
	"context"
	"sync"
)

// HasFollowingSibling reports whether the node at index has another sibling
// after it at the same depth. Renderers use it to decide whether to draw a
// continuation connector; it is a pure function of position so every consumer
// computes it the same way.
func HasFollowingSibling(siblings []Comment, index int) bool {
	return index >= 0 && index < len(siblings)-1
}

// ThreadCache holds the fetched comment tree per submission. Entries are
// keyed by submission identifier and never alias, so invalidating one
// submission cannot disturb another.
type ThreadCache struct {
	client *APIClient

	mu      sync.Mutex
	threads map[string][]Comment
}

// NewThreadCache constructs an empty cache backed by the given client.
func NewThreadCache(client *APIClient) *ThreadCache {
	return &ThreadCache{
		client:  client,
		threads: make(map[string][]Comment),
	}
}

// Thread returns the comment tree for a submission, fetching it on a miss.
func (tc *ThreadCache) Thread(ctx context.Context, submissionID string) ([]Comment, error) {
	tc.mu.Lock()
	cached, ok := tc.threads[submissionID]
	tc.mu.Unlock()
	if ok {
		return cached, nil
	}
	return tc.Refresh(ctx, submissionID)
}

// Refresh fetches the tree from the server and replaces the cached entry.
func (tc *ThreadCache) Refresh(ctx context.Context, submissionID string) ([]Comment, error) {
	fetched, err := tc.client.Thread(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	tc.mu.Lock()
	tc.threads[submissionID] = fetched
	tc.mu.Unlock()
	return fetched, nil
}

// Invalidate drops exactly one submission's cached tree.
func (tc *ThreadCache) Invalidate(submissionID string) {
	tc.mu.Lock()
	delete(tc.threads, submissionID)
	tc.mu.Unlock()
}

// Cached returns the cached tree without fetching.
func (tc *ThreadCache) Cached(submissionID string) ([]Comment, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	cached, ok := tc.threads[submissionID]
	return cached, ok
}

// Lookup finds a comment by identifier in a submission's cached tree. The
// returned depth is 0 for roots and 1 for replies.
func (tc *ThreadCache) Lookup(submissionID, commentID string) (Comment, int, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, root := range tc.threads[submissionID] {
		if root.CommentID == commentID {
			return root, 0, true
		}
		for _, reply := range root.Replies {
			if reply.CommentID == commentID {
				return reply, 1, true
			}
		}
	}
	return Comment{}, 0, false
}

// mutate applies fn to the comment with the given identifier, if cached.
func (tc *ThreadCache) mutate(submissionID, commentID string, fn func(*Comment)) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tree := tc.threads[submissionID]
	for rootIndex := range tree {
		if tree[rootIndex].CommentID == commentID {
			fn(&tree[rootIndex])
			return true
		}
		for replyIndex := range tree[rootIndex].Replies {
			if tree[rootIndex].Replies[replyIndex].CommentID == commentID {
				fn(&tree[rootIndex].Replies[replyIndex])
				return true
			}
		}
	}
	return false
}
