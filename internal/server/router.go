package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/reviewlab/reviewlab/internal/alarms"
	"github.com/reviewlab/reviewlab/internal/auth"
	"github.com/reviewlab/reviewlab/internal/review"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "reviewlab_user_id"
	nicknameContextKey = "reviewlab_nickname"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingReviewService = errors.New("review service dependency required")
	errMissingAlarmService  = errors.New("alarm service dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP surface to its collaborating services.
type Dependencies struct {
	TokenManager   *auth.TokenManager
	ReviewService  *review.Service
	AlarmService   *alarms.Service
	Realtime       *RealtimeDispatcher
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the review and alarm surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ReviewService == nil {
		return nil, errMissingReviewService
	}
	if deps.AlarmService == nil {
		return nil, errMissingAlarmService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		reviews:  deps.ReviewService,
		alarms:   deps.AlarmService,
		realtime: deps.Realtime,
		logger:   logger,
	}

	// The stream authenticates through its query parameter, not the header.
	router.GET("/alarms/stream", handler.handleAlarmStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/submissions/:submissionId/comments", handler.handleThread)
	protected.POST("/comments", handler.handleAddComment)
	protected.PUT("/comments/:commentId", handler.handleEditComment)
	protected.DELETE("/comments/:commentId", handler.handleDeleteComment)
	protected.POST("/comments/:commentId/like", handler.handleLike)
	protected.DELETE("/comments/:commentId/like", handler.handleUnlike)
	protected.GET("/alarms", handler.handleListAlarms)
	protected.GET("/alarms/unread-count", handler.handleUnreadCount)
	protected.DELETE("/alarms", handler.handleDeleteAlarms)

	return router, nil
}

type httpHandler struct {
	tokens   *auth.TokenManager
	reviews  *review.Service
	alarms   *alarms.Service
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type commentPayload struct {
	CommentID      string           `json:"comment_id"`
	SubmissionID   string           `json:"submission_id"`
	AuthorID       string           `json:"author_id"`
	AuthorNickname string           `json:"author_nickname"`
	ParentID       *string          `json:"parent_id"`
	LineNumber     *int             `json:"line_number"`
	Content        string           `json:"content"`
	ContentHTML    string           `json:"content_html"`
	LikeCount      int64            `json:"like_count"`
	ViewerHasLiked bool             `json:"viewer_has_liked"`
	CreatedAt      int64            `json:"created_at_s"`
	UpdatedAt      int64            `json:"updated_at_s"`
	Replies        []commentPayload `json:"replies"`
}

func toCommentPayload(node review.ThreadComment) commentPayload {
	payload := commentPayload{
		CommentID:      node.CommentID,
		SubmissionID:   node.SubmissionID,
		AuthorID:       node.AuthorID,
		AuthorNickname: node.AuthorNickname,
		ParentID:       node.ParentID,
		LineNumber:     node.LineNumber,
		Content:        node.Content,
		ContentHTML:    node.ContentHTML,
		LikeCount:      node.LikeCount,
		ViewerHasLiked: node.ViewerHasLiked,
		CreatedAt:      node.CreatedAtSeconds,
		UpdatedAt:      node.UpdatedAtSeconds,
		Replies:        make([]commentPayload, 0, len(node.Replies)),
	}
	for _, reply := range node.Replies {
		payload.Replies = append(payload.Replies, toCommentPayload(reply))
	}
	return payload
}

func (h *httpHandler) handleThread(c *gin.Context) {
	submissionID, err := review.NewSubmissionID(c.Param("submissionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}

	thread, err := h.reviews.Thread(c.Request.Context(), submissionID, viewerID)
	if err != nil {
		h.respondReviewError(c, err)
		return
	}

	payload := make([]commentPayload, 0, len(thread))
	for _, node := range thread {
		payload = append(payload, toCommentPayload(node))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

type addCommentRequestPayload struct {
	SubmissionID string  `json:"submission_id"`
	Content      string  `json:"content"`
	ParentID     *string `json:"parent_id"`
	LineNumber   *int    `json:"line_number"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}

	var request addCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	submissionID, err := review.NewSubmissionID(request.SubmissionID)
	if err != nil && request.ParentID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}

	serviceRequest := review.AddCommentRequest{
		SubmissionID: submissionID,
		AuthorID:     viewerID,
		AuthorNick:   c.GetString(nicknameContextKey),
		Content:      request.Content,
		LineNumber:   request.LineNumber,
	}
	if request.ParentID != nil {
		parentID, err := review.NewCommentID(*request.ParentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parent_id"})
			return
		}
		serviceRequest.ParentID = &parentID
	}

	created, err := h.reviews.AddComment(c.Request.Context(), serviceRequest)
	if err != nil {
		h.respondReviewError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCommentPayload(created))
}

type editCommentRequestPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleEditComment(c *gin.Context) {
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}
	commentID, err := review.NewCommentID(c.Param("commentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}

	var request editCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.reviews.EditComment(c.Request.Context(), commentID, viewerID, request.Content)
	if err != nil {
		h.respondReviewError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCommentPayload(updated))
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}
	commentID, err := review.NewCommentID(c.Param("commentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}

	if err := h.reviews.DeleteComment(c.Request.Context(), commentID, viewerID); err != nil {
		h.respondReviewError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLike(c *gin.Context) {
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}
	commentID, err := review.NewCommentID(c.Param("commentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}

	if err := h.reviews.Like(c.Request.Context(), commentID, viewerID); err != nil {
		h.respondReviewError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	viewerID, ok := h.viewer(c)
	if !ok {
		return
	}
	commentID, err := review.NewCommentID(c.Param("commentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}

	if err := h.reviews.Unlike(c.Request.Context(), commentID, viewerID); err != nil {
		h.respondReviewError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type alarmPayload struct {
	AlarmID   string          `json:"alarm_id"`
	AlarmType string          `json:"alarm_type"`
	Payload   json.RawMessage `json:"payload"`
	Message   string          `json:"message"`
	IsRead    bool            `json:"is_read"`
	CreatedAt int64           `json:"created_at_s"`
}

func (h *httpHandler) handleListAlarms(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	listed, err := h.alarms.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("alarm list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]alarmPayload, 0, len(listed))
	for _, alarm := range listed {
		raw := json.RawMessage(nil)
		if alarm.PayloadJSON != "" {
			raw = json.RawMessage(alarm.PayloadJSON)
		}
		payload = append(payload, alarmPayload{
			AlarmID:   alarm.AlarmID,
			AlarmType: string(alarm.AlarmType),
			Payload:   raw,
			Message:   alarm.Message,
			IsRead:    alarm.IsRead,
			CreatedAt: alarm.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"alarms": payload})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	count, err := h.alarms.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("unread count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type deleteAlarmsRequestPayload struct {
	AlarmIDs []string `json:"alarm_ids"`
}

func (h *httpHandler) handleDeleteAlarms(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request deleteAlarmsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.AlarmIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.alarms.DeleteBatch(c.Request.Context(), userID, request.AlarmIDs); err != nil {
		h.logger.Error("alarm batch delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) viewer(c *gin.Context) (review.UserID, bool) {
	viewerID, err := review.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return viewerID, true
}

// respondReviewError maps service failures onto the wire taxonomy. The
// already-liked and not-liked outcomes get distinguishable bodies so clients
// can treat them as satisfied rather than failed.
func (h *httpHandler) respondReviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, review.ErrDepthExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "depth_exceeded"})
	case errors.Is(err, review.ErrEmptyContent),
		errors.Is(err, review.ErrInvalidLineNumber),
		errors.Is(err, review.ErrInvalidSubmissionID),
		errors.Is(err, review.ErrInvalidCommentID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, review.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, review.ErrCommentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, review.ErrAlreadyLiked):
		c.JSON(http.StatusConflict, gin.H{"error": "already_liked"})
	case errors.Is(err, review.ErrNotLiked):
		c.JSON(http.StatusConflict, gin.H{"error": "not_liked"})
	default:
		h.logger.Error("review operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(nicknameContextKey, claims.Nickname)
	c.Next()
}
