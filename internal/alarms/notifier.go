package alarms

import (
	"context"
	"fmt"

	"github.com/reviewlab/reviewlab/internal/review"
	"go.uber.org/zap"
)

// CommentNotifier turns committed comment events into reply alarms. Root
// comments carry no recipient here: resolving a submission's owner belongs to
// the submission service, which raises TypeNewComment alarms through its own
// integration with Create.
type CommentNotifier struct {
	service *Service
	logger  *zap.Logger
}

// NewCommentNotifier constructs the bridge between the review service and alarms.
func NewCommentNotifier(service *Service, logger *zap.Logger) *CommentNotifier {
	if logger == nil {
		logger = noOpLogger
	}
	return &CommentNotifier{service: service, logger: logger}
}

// CommentCreated raises a reply alarm for the parent comment's author.
// Self-replies never notify. Failures are logged, not surfaced: the comment
// itself has already committed.
func (n *CommentNotifier) CommentCreated(ctx context.Context, event review.CommentEvent) {
	if event.ParentAuthorID == "" || event.ParentAuthorID == event.ActorID.String() {
		return
	}

	message := "You have a new reply"
	if event.ActorNickname != "" {
		message = fmt.Sprintf("%s replied to your comment", event.ActorNickname)
	}

	payload := map[string]string{
		"submission_id": event.SubmissionID.String(),
		"comment_id":    event.CommentID.String(),
	}
	if event.ParentID != nil {
		payload["parent_id"] = event.ParentID.String()
	}

	if _, err := n.service.Create(ctx, CreateRequest{
		UserID:    event.ParentAuthorID,
		AlarmType: TypeNewReply,
		Payload:   payload,
		Message:   message,
	}); err != nil {
		n.logger.Warn("reply alarm creation failed",
			zap.String("recipient", event.ParentAuthorID),
			zap.String("comment_id", event.CommentID.String()),
			zap.Error(err))
	}
}
