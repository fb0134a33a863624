package reviewsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// Comment is the wire shape of one review comment, replies nested in
// creation order. A nil ParentID marks a root; a nil LineNumber marks a
// whole-submission comment.
type Comment struct {
	CommentID      string    `json:"comment_id"`
	SubmissionID   string    `json:"submission_id"`
	AuthorID       string    `json:"author_id"`
	AuthorNickname string    `json:"author_nickname"`
	ParentID       *string   `json:"parent_id"`
	LineNumber     *int      `json:"line_number"`
	Content        string    `json:"content"`
	ContentHTML    string    `json:"content_html"`
	LikeCount      int64     `json:"like_count"`
	ViewerHasLiked bool      `json:"viewer_has_liked"`
	CreatedAt      int64     `json:"created_at_s"`
	UpdatedAt      int64     `json:"updated_at_s"`
	Replies        []Comment `json:"replies"`
}

// IsRoot reports whether the comment sits at depth zero.
func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}

// Alarm is the wire shape of one notification record. Payload carries opaque
// navigation cross-references only; local state is never derived from it.
type Alarm struct {
	AlarmID   string          `json:"alarm_id"`
	AlarmType string          `json:"alarm_type"`
	Payload   json.RawMessage `json:"payload"`
	Message   string          `json:"message"`
	IsRead    bool            `json:"is_read"`
	CreatedAt int64           `json:"created_at_s"`
}

var (
	errMissingBaseURL = errors.New("reviewsync: base URL required")
	errMissingToken   = errors.New("reviewsync: bearer token required")
)

// APIClientConfig configures the REST client.
type APIClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// APIClient wraps the review and alarm REST surface. All methods translate
// non-2xx responses through the package error taxonomy.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient constructs an APIClient from its configuration.
func NewAPIClient(cfg APIClientConfig) (*APIClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &APIClient{baseURL: baseURL, token: cfg.Token, httpClient: httpClient}, nil
}

// StreamURL returns the SSE endpoint with the credential bound as a query
// parameter, the shape the channel manager dials.
func (c *APIClient) StreamURL() string {
	return fmt.Sprintf("%s/alarms/stream?access_token=%s", c.baseURL, url.QueryEscape(c.token))
}

// Thread fetches the ordered comment tree for one submission.
func (c *APIClient) Thread(ctx context.Context, submissionID string) ([]Comment, error) {
	var body struct {
		Comments []Comment `json:"comments"`
	}
	path := fmt.Sprintf("/submissions/%s/comments", url.PathEscape(submissionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Comments, nil
}

type addCommentRequest struct {
	SubmissionID string  `json:"submission_id"`
	Content      string  `json:"content"`
	ParentID     *string `json:"parent_id,omitempty"`
	LineNumber   *int    `json:"line_number,omitempty"`
}

// AddComment posts a new root comment or reply and returns the created node.
func (c *APIClient) AddComment(ctx context.Context, submissionID, content string, parentID *string, lineNumber *int) (Comment, error) {
	request := addCommentRequest{
		SubmissionID: submissionID,
		Content:      content,
		ParentID:     parentID,
		LineNumber:   lineNumber,
	}
	var created Comment
	if err := c.do(ctx, http.MethodPost, "/comments", request, &created); err != nil {
		return Comment{}, err
	}
	return created, nil
}

// EditComment replaces a comment's content and returns the updated node.
func (c *APIClient) EditComment(ctx context.Context, commentID, content string) (Comment, error) {
	request := struct {
		Content string `json:"content"`
	}{Content: content}
	var updated Comment
	path := fmt.Sprintf("/comments/%s", url.PathEscape(commentID))
	if err := c.do(ctx, http.MethodPut, path, request, &updated); err != nil {
		return Comment{}, err
	}
	return updated, nil
}

// DeleteComment removes a comment; the server cascades replies of a root.
func (c *APIClient) DeleteComment(ctx context.Context, commentID string) error {
	path := fmt.Sprintf("/comments/%s", url.PathEscape(commentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Like records the viewer's like on a comment.
func (c *APIClient) Like(ctx context.Context, commentID string) error {
	path := fmt.Sprintf("/comments/%s/like", url.PathEscape(commentID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Unlike removes the viewer's like from a comment.
func (c *APIClient) Unlike(ctx context.Context, commentID string) error {
	path := fmt.Sprintf("/comments/%s/like", url.PathEscape(commentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// UnreadCount fetches the authoritative unread alarm count.
func (c *APIClient) UnreadCount(ctx context.Context) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/alarms/unread-count", nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// ListAlarms fetches the viewer's alarms. The server marks every returned
// alarm read as a side effect of this call.
func (c *APIClient) ListAlarms(ctx context.Context) ([]Alarm, error) {
	var body struct {
		Alarms []Alarm `json:"alarms"`
	}
	if err := c.do(ctx, http.MethodGet, "/alarms", nil, &body); err != nil {
		return nil, err
	}
	return body.Alarms, nil
}

// DeleteAlarms removes a batch of the viewer's alarms by identifier.
func (c *APIClient) DeleteAlarms(ctx context.Context, alarmIDs []string) error {
	if len(alarmIDs) == 0 {
		return nil
	}
	request := struct {
		AlarmIDs []string `json:"alarm_ids"`
	}{AlarmIDs: alarmIDs}
	return c.do(ctx, http.MethodDelete, "/alarms", request, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var reader *bytes.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var errorBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(response.Body).Decode(&errorBody)
		return classifyResponse(response.StatusCode, errorBody.Error)
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}
