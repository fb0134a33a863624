package review

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCommentID indicates that a comment identifier is empty or exceeds storage bounds.
	ErrInvalidCommentID = errors.New("review: invalid comment id")
	// ErrInvalidSubmissionID indicates that a submission identifier is empty or exceeds storage bounds.
	ErrInvalidSubmissionID = errors.New("review: invalid submission id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("review: invalid user id")
	// ErrEmptyContent indicates that a comment body contained no text.
	ErrEmptyContent = errors.New("review: empty content")
	// ErrInvalidLineNumber indicates a non-positive anchored line number.
	ErrInvalidLineNumber = errors.New("review: invalid line number")
)

// CommentID represents a validated comment identifier.
type CommentID string

// NewCommentID validates raw input and returns a CommentID.
func NewCommentID(rawInput string) (CommentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommentID, maxIdentifierLength)
	}
	return CommentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CommentID) String() string {
	return string(id)
}

// SubmissionID represents a validated submission identifier.
type SubmissionID string

// NewSubmissionID validates raw input and returns a SubmissionID.
func NewSubmissionID(rawInput string) (SubmissionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSubmissionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSubmissionID, maxIdentifierLength)
	}
	return SubmissionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SubmissionID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Comment models a persisted review comment. ParentID is nil for root
// comments; a non-nil ParentID always refers to a root comment, so the
// stored tree never exceeds depth two. LineNumber is nil for comments that
// apply to the submission as a whole.
type Comment struct {
	CommentID        string  `gorm:"column:comment_id;primaryKey;size:190;not null"`
	SubmissionID     string  `gorm:"column:submission_id;size:190;not null;index:idx_comments_submission_created,priority:1"`
	AuthorID         string  `gorm:"column:author_id;size:190;not null"`
	AuthorNickname   string  `gorm:"column:author_nickname;size:320;not null;default:''"`
	ParentID         *string `gorm:"column:parent_id;size:190;index"`
	LineNumber       *int    `gorm:"column:line_number"`
	Content          string  `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_comments_submission_created,priority:2"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "review_comments"
}

// CommentLike records that a viewer liked a comment. The composite primary
// key enforces at most one like per (comment, viewer) pair at the schema level.
type CommentLike struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentLike) TableName() string {
	return "review_comment_likes"
}

// ThreadComment is a comment decorated with like state for one viewer and
// its ordered replies, as served to thread consumers.
type ThreadComment struct {
	Comment
	ContentHTML    string
	LikeCount      int64
	ViewerHasLiked bool
	Replies        []ThreadComment
}

// IsRoot reports whether the comment sits at depth zero.
func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}
