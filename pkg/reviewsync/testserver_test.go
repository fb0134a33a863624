package reviewsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// fakeBackend is an in-memory stand-in for the review API, just enough
// surface for the client engine to exercise its contracts against.
type fakeBackend struct {
	mu       sync.Mutex
	threads  map[string][]Comment
	unread   int64
	alarms   []Alarm
	nextID   int
	failLike bool
	// conflictLike forces a 409 already_liked on POST like.
	conflictLike bool

	threadFetches map[string]int
	countFetches  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		threads:       make(map[string][]Comment),
		threadFetches: make(map[string]int),
		nextID:        1,
	}
}

func (fb *fakeBackend) seedThread(submissionID string, comments ...Comment) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.threads[submissionID] = comments
}

func (fb *fakeBackend) start(t *testing.T) (*httptest.Server, *APIClient) {
	t.Helper()
	server := httptest.NewServer(fb.handler())
	t.Cleanup(server.Close)

	client, err := NewAPIClient(APIClientConfig{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return server, client
}

func (fb *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /submissions/{submissionId}/comments", fb.handleThread)
	mux.HandleFunc("POST /comments", fb.handleAddComment)
	mux.HandleFunc("PUT /comments/{commentId}", fb.handleEditComment)
	mux.HandleFunc("DELETE /comments/{commentId}", fb.handleDeleteComment)
	mux.HandleFunc("POST /comments/{commentId}/like", fb.handleLike)
	mux.HandleFunc("DELETE /comments/{commentId}/like", fb.handleUnlike)
	mux.HandleFunc("GET /alarms/unread-count", fb.handleUnreadCount)
	mux.HandleFunc("GET /alarms", fb.handleListAlarms)
	mux.HandleFunc("DELETE /alarms", fb.handleDeleteAlarms)
	return mux
}

func (fb *fakeBackend) handleThread(w http.ResponseWriter, r *http.Request) {
	submissionID := r.PathValue("submissionId")
	fb.mu.Lock()
	fb.threadFetches[submissionID]++
	payload := fb.threads[submissionID]
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"comments": payload})
}

func (fb *fakeBackend) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SubmissionID string  `json:"submission_id"`
		Content      string  `json:"content"`
		ParentID     *string `json:"parent_id"`
		LineNumber   *int    `json:"line_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	created := Comment{
		CommentID:    fb.allocateID(),
		SubmissionID: request.SubmissionID,
		AuthorID:     "viewer",
		Content:      request.Content,
		LineNumber:   request.LineNumber,
		ParentID:     request.ParentID,
		Replies:      []Comment{},
	}

	if request.ParentID == nil {
		fb.threads[request.SubmissionID] = append(fb.threads[request.SubmissionID], created)
		writeJSON(w, http.StatusCreated, created)
		return
	}

	for submissionID, tree := range fb.threads {
		for index := range tree {
			if tree[index].CommentID == *request.ParentID {
				created.SubmissionID = submissionID
				created.LineNumber = nil
				tree[index].Replies = append(tree[index].Replies, created)
				fb.threads[submissionID] = tree
				writeJSON(w, http.StatusCreated, created)
				return
			}
			for _, reply := range tree[index].Replies {
				if reply.CommentID == *request.ParentID {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "depth_exceeded"})
					return
				}
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

func (fb *fakeBackend) handleEditComment(w http.ResponseWriter, r *http.Request) {
	commentID := r.PathValue("commentId")
	var request struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if updated, ok := fb.updateComment(commentID, func(c *Comment) { c.Content = request.Content }); ok {
		writeJSON(w, http.StatusOK, updated)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

func (fb *fakeBackend) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	commentID := r.PathValue("commentId")
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for submissionID, tree := range fb.threads {
		for index := range tree {
			if tree[index].CommentID == commentID {
				fb.threads[submissionID] = append(tree[:index:index], tree[index+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

func (fb *fakeBackend) handleLike(w http.ResponseWriter, r *http.Request) {
	commentID := r.PathValue("commentId")
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.failLike {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if fb.conflictLike {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already_liked"})
		return
	}
	if _, ok := fb.updateComment(commentID, func(c *Comment) {
		c.LikeCount++
		c.ViewerHasLiked = true
	}); ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

func (fb *fakeBackend) handleUnlike(w http.ResponseWriter, r *http.Request) {
	commentID := r.PathValue("commentId")
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.failLike {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if _, ok := fb.updateComment(commentID, func(c *Comment) {
		if c.LikeCount > 0 {
			c.LikeCount--
		}
		c.ViewerHasLiked = false
	}); ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

func (fb *fakeBackend) handleUnreadCount(w http.ResponseWriter, _ *http.Request) {
	fb.mu.Lock()
	fb.countFetches++
	count := fb.unread
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (fb *fakeBackend) handleListAlarms(w http.ResponseWriter, _ *http.Request) {
	fb.mu.Lock()
	payload := fb.alarms
	// Listing marks everything read.
	fb.unread = 0
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"alarms": payload})
}

func (fb *fakeBackend) handleDeleteAlarms(w http.ResponseWriter, r *http.Request) {
	var request struct {
		AlarmIDs []string `json:"alarm_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	fb.mu.Lock()
	kept := fb.alarms[:0]
	for _, alarm := range fb.alarms {
		if !contains(request.AlarmIDs, alarm.AlarmID) {
			kept = append(kept, alarm)
		}
	}
	fb.alarms = kept
	fb.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// updateComment must be called with fb.mu held.
func (fb *fakeBackend) updateComment(commentID string, fn func(*Comment)) (Comment, bool) {
	for submissionID, tree := range fb.threads {
		for index := range tree {
			if tree[index].CommentID == commentID {
				fn(&tree[index])
				fb.threads[submissionID] = tree
				return tree[index], true
			}
			for replyIndex := range tree[index].Replies {
				if tree[index].Replies[replyIndex].CommentID == commentID {
					fn(&tree[index].Replies[replyIndex])
					fb.threads[submissionID] = tree
					return tree[index].Replies[replyIndex], true
				}
			}
		}
	}
	return Comment{}, false
}

// allocateID must be called with fb.mu held.
func (fb *fakeBackend) allocateID() string {
	id := fb.nextID
	fb.nextID++
	return "comment-" + strconv.Itoa(id)
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intPtr(value int) *int {
	return &value
}

func strPtr(value string) *string {
	return &value
}
