package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrCommentNotFound indicates the referenced comment does not exist.
	ErrCommentNotFound = errors.New("review: comment not found")
	// ErrDepthExceeded indicates a reply targeted a comment that is itself a reply.
	ErrDepthExceeded = errors.New("review: reply depth exceeded")
	// ErrNotAuthor indicates the acting viewer does not own the comment.
	ErrNotAuthor = errors.New("review: viewer is not the author")
	// ErrAlreadyLiked indicates the viewer already liked the comment.
	ErrAlreadyLiked = errors.New("review: already liked")
	// ErrNotLiked indicates the viewer has no like to withdraw.
	ErrNotLiked = errors.New("review: not liked")
)

// ServiceError wraps failures with a dotted operation code for log correlation.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "review.service.new"
	opThread        = "review.thread"
	opAddComment    = "review.add_comment"
	opEditComment   = "review.edit_comment"
	opDeleteComment = "review.delete_comment"
	opLike          = "review.like"
	opUnlike        = "review.unlike"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CommentEvent describes a successfully created comment for downstream
// notification fan-out. ParentAuthorID is empty for root comments.
type CommentEvent struct {
	SubmissionID   SubmissionID
	CommentID      CommentID
	ParentID       *CommentID
	ActorID        UserID
	ActorNickname  string
	ParentAuthorID string
}

// Notifier receives comment events after the owning transaction commits.
type Notifier interface {
	CommentCreated(ctx context.Context, event CommentEvent)
}

// IDProvider issues identifiers for new comments.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the review service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   Notifier
	Logger     *zap.Logger
}

// Service owns the submission-scoped comment threads: tree reads, comment
// commands, and like state. The server, not the client, is the authority for
// the depth bound and the authorship gate.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	notifier   Notifier
	logger     *zap.Logger
}

// NewService constructs a Service from its configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// Thread returns the ordered comment tree for one submission, decorated with
// like counts and the viewer's own like flags. Roots and replies are both
// ordered by creation time ascending.
func (s *Service) Thread(ctx context.Context, submissionID SubmissionID, viewerID UserID) ([]ThreadComment, error) {
	var rows []Comment
	if err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID.String()).
		Order("created_at_s ASC, comment_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opThread, "query_failed", err, zap.String("submission_id", submissionID.String()))
		return nil, newServiceError(opThread, "query_failed", err)
	}

	likeCounts, viewerLikes, err := s.likeState(ctx, rows, viewerID)
	if err != nil {
		s.logError(opThread, "like_query_failed", err, zap.String("submission_id", submissionID.String()))
		return nil, newServiceError(opThread, "like_query_failed", err)
	}

	return assembleThread(rows, likeCounts, viewerLikes), nil
}

// AddCommentRequest carries the input for a root comment or a reply.
type AddCommentRequest struct {
	SubmissionID SubmissionID
	AuthorID     UserID
	AuthorNick   string
	Content      string
	ParentID     *CommentID
	LineNumber   *int
}

// AddComment persists a root comment or a reply. Replies inherit the parent's
// submission scope and are rejected with ErrDepthExceeded when the parent is
// itself a reply. Line anchors are only meaningful on root comments.
func (s *Service) AddComment(ctx context.Context, request AddCommentRequest) (ThreadComment, error) {
	content, err := validateContent(request.Content)
	if err != nil {
		return ThreadComment{}, newServiceError(opAddComment, "invalid_content", err)
	}
	if request.LineNumber != nil && *request.LineNumber <= 0 {
		return ThreadComment{}, newServiceError(opAddComment, "invalid_line_number", ErrInvalidLineNumber)
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err)
		return ThreadComment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	created := Comment{
		CommentID:        commentID,
		SubmissionID:     request.SubmissionID.String(),
		AuthorID:         request.AuthorID.String(),
		AuthorNickname:   request.AuthorNick,
		LineNumber:       request.LineNumber,
		Content:          content,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	event := CommentEvent{
		SubmissionID:  request.SubmissionID,
		CommentID:     CommentID(commentID),
		ActorID:       request.AuthorID,
		ActorNickname: request.AuthorNick,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if request.ParentID != nil {
			var parent Comment
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("comment_id = ?", request.ParentID.String()).
				Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opAddComment, "parent_not_found", ErrCommentNotFound)
			}
			if err != nil {
				s.logError(opAddComment, "parent_select_failed", err, zap.String("parent_id", request.ParentID.String()))
				return newServiceError(opAddComment, "parent_select_failed", err)
			}
			if !parent.IsRoot() {
				return newServiceError(opAddComment, "depth_exceeded", ErrDepthExceeded)
			}

			parentID := parent.CommentID
			created.ParentID = &parentID
			// Scope invariant: a reply always lives in its parent's submission.
			created.SubmissionID = parent.SubmissionID
			created.LineNumber = nil

			event.SubmissionID = SubmissionID(parent.SubmissionID)
			event.ParentID = request.ParentID
			event.ParentAuthorID = parent.AuthorID
		}

		if err := tx.Create(&created).Error; err != nil {
			s.logError(opAddComment, "insert_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opAddComment, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return ThreadComment{}, txErr
	}

	if s.notifier != nil {
		s.notifier.CommentCreated(ctx, event)
	}

	return ThreadComment{
		Comment:     created,
		ContentHTML: RenderContent(created.Content),
		Replies:     []ThreadComment{},
	}, nil
}

// EditComment replaces the content of a comment owned by the acting viewer.
func (s *Service) EditComment(ctx context.Context, commentID CommentID, viewerID UserID, content string) (ThreadComment, error) {
	validated, err := validateContent(content)
	if err != nil {
		return ThreadComment{}, newServiceError(opEditComment, "invalid_content", err)
	}

	var updated Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.takeOwned(tx, opEditComment, commentID, viewerID)
		if err != nil {
			return err
		}

		existing.Content = validated
		existing.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opEditComment, "update_failed", err, zap.String("comment_id", commentID.String()))
			return newServiceError(opEditComment, "update_failed", err)
		}
		updated = existing
		return nil
	})
	if txErr != nil {
		return ThreadComment{}, txErr
	}

	return ThreadComment{
		Comment:     updated,
		ContentHTML: RenderContent(updated.Content),
		Replies:     []ThreadComment{},
	}, nil
}

// DeleteComment removes a comment owned by the acting viewer. Deleting a root
// also removes its replies and their likes; clients re-derive visibility by
// refetching the whole thread rather than splicing locally.
func (s *Service) DeleteComment(ctx context.Context, commentID CommentID, viewerID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.takeOwned(tx, opDeleteComment, commentID, viewerID)
		if err != nil {
			return err
		}

		doomed := []string{existing.CommentID}
		if existing.IsRoot() {
			var replyIDs []string
			if err := tx.Model(&Comment{}).
				Where("parent_id = ?", existing.CommentID).
				Pluck("comment_id", &replyIDs).Error; err != nil {
				s.logError(opDeleteComment, "reply_select_failed", err, zap.String("comment_id", commentID.String()))
				return newServiceError(opDeleteComment, "reply_select_failed", err)
			}
			doomed = append(doomed, replyIDs...)
		}

		if err := tx.Where("comment_id IN ?", doomed).Delete(&CommentLike{}).Error; err != nil {
			s.logError(opDeleteComment, "like_delete_failed", err, zap.String("comment_id", commentID.String()))
			return newServiceError(opDeleteComment, "like_delete_failed", err)
		}
		if err := tx.Where("comment_id IN ?", doomed).Delete(&Comment{}).Error; err != nil {
			s.logError(opDeleteComment, "delete_failed", err, zap.String("comment_id", commentID.String()))
			return newServiceError(opDeleteComment, "delete_failed", err)
		}
		return nil
	})
}

// Like records a like for the viewer. A duplicate like surfaces as
// ErrAlreadyLiked, which transports translate to the recognized
// already-satisfied outcome rather than a generic failure.
func (s *Service) Like(ctx context.Context, commentID CommentID, viewerID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireComment(tx, opLike, commentID); err != nil {
			return err
		}

		like := CommentLike{
			CommentID:        commentID.String(),
			UserID:           viewerID.String(),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
		if result.Error != nil {
			s.logError(opLike, "insert_failed", result.Error, zap.String("comment_id", commentID.String()))
			return newServiceError(opLike, "insert_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opLike, "already_liked", ErrAlreadyLiked)
		}
		return nil
	})
}

// Unlike withdraws the viewer's like. Withdrawing an absent like surfaces as
// ErrNotLiked, the symmetric already-satisfied outcome.
func (s *Service) Unlike(ctx context.Context, commentID CommentID, viewerID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireComment(tx, opUnlike, commentID); err != nil {
			return err
		}

		result := tx.Where("comment_id = ? AND user_id = ?", commentID.String(), viewerID.String()).
			Delete(&CommentLike{})
		if result.Error != nil {
			s.logError(opUnlike, "delete_failed", result.Error, zap.String("comment_id", commentID.String()))
			return newServiceError(opUnlike, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opUnlike, "not_liked", ErrNotLiked)
		}
		return nil
	})
}

func (s *Service) takeOwned(tx *gorm.DB, operation string, commentID CommentID, viewerID UserID) (Comment, error) {
	var existing Comment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("comment_id = ?", commentID.String()).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, newServiceError(operation, "not_found", ErrCommentNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("comment_id", commentID.String()))
		return Comment{}, newServiceError(operation, "select_failed", err)
	}
	if existing.AuthorID != viewerID.String() {
		return Comment{}, newServiceError(operation, "not_author", ErrNotAuthor)
	}
	return existing, nil
}

func (s *Service) requireComment(tx *gorm.DB, operation string, commentID CommentID) error {
	var count int64
	if err := tx.Model(&Comment{}).
		Where("comment_id = ?", commentID.String()).
		Count(&count).Error; err != nil {
		s.logError(operation, "select_failed", err, zap.String("comment_id", commentID.String()))
		return newServiceError(operation, "select_failed", err)
	}
	if count == 0 {
		return newServiceError(operation, "not_found", ErrCommentNotFound)
	}
	return nil
}

func (s *Service) likeState(ctx context.Context, rows []Comment, viewerID UserID) (map[string]int64, map[string]bool, error) {
	likeCounts := make(map[string]int64, len(rows))
	viewerLikes := make(map[string]bool, len(rows))
	if len(rows) == 0 {
		return likeCounts, viewerLikes, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CommentID)
	}

	type countRow struct {
		CommentID string
		Total     int64
	}
	var counts []countRow
	if err := s.db.WithContext(ctx).Model(&CommentLike{}).
		Select("comment_id, COUNT(*) AS total").
		Where("comment_id IN ?", ids).
		Group("comment_id").
		Scan(&counts).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range counts {
		likeCounts[row.CommentID] = row.Total
	}

	var liked []string
	if err := s.db.WithContext(ctx).Model(&CommentLike{}).
		Where("comment_id IN ? AND user_id = ?", ids, viewerID.String()).
		Pluck("comment_id", &liked).Error; err != nil {
		return nil, nil, err
	}
	for _, id := range liked {
		viewerLikes[id] = true
	}

	return likeCounts, viewerLikes, nil
}

func validateContent(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyContent
	}
	return raw, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("review service error", attrs...)
}
