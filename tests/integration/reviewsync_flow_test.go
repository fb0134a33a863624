package integration_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/reviewlab/reviewlab/internal/alarms"
	"github.com/reviewlab/reviewlab/internal/auth"
	"github.com/reviewlab/reviewlab/internal/ids"
	"github.com/reviewlab/reviewlab/internal/review"
	"github.com/reviewlab/reviewlab/internal/server"
	"github.com/reviewlab/reviewlab/pkg/reviewsync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const integrationSigningSecret = "integration-secret"

type viewerEngine struct {
	client   *reviewsync.APIClient
	cache    *reviewsync.ThreadCache
	commands *reviewsync.Commands
	likes    *reviewsync.LikeTracker
	unread   *reviewsync.UnreadSynchronizer
}

func startBackend(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:reviewsync_flow?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&review.Comment{}, &review.CommentLike{}, &alarms.Alarm{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	dispatcher := server.NewRealtimeDispatcher()
	alarmService, err := alarms.NewService(alarms.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  dispatcher,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build alarm service: %v", err)
	}
	reviewService, err := review.NewService(review.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Notifier:   alarms.NewCommentNotifier(alarmService, zap.NewNop()),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build review service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  mustTokenManager(testContext),
		ReviewService: reviewService,
		AlarmService:  alarmService,
		Realtime:      dispatcher,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func mustTokenManager(testContext *testing.T) *auth.TokenManager {
	testContext.Helper()
	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "reviewlab-auth",
		Audience:      "reviewlab-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		testContext.Fatalf("failed to build token manager: %v", err)
	}
	return tokens
}

func newViewerEngine(testContext *testing.T, baseURL, userID, nickname string) *viewerEngine {
	testContext.Helper()
	tokens := mustTokenManager(testContext)
	token, _, err := tokens.Issue(userID, nickname)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	client, err := reviewsync.NewAPIClient(reviewsync.APIClientConfig{BaseURL: baseURL, Token: token})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}
	cache := reviewsync.NewThreadCache(client)
	commands, err := reviewsync.NewCommands(client, cache)
	if err != nil {
		testContext.Fatalf("failed to build command layer: %v", err)
	}
	likes, err := reviewsync.NewLikeTracker(client, cache)
	if err != nil {
		testContext.Fatalf("failed to build like tracker: %v", err)
	}
	unread, err := reviewsync.NewUnreadSynchronizer(reviewsync.UnreadSynchronizerConfig{
		Client:       client,
		PollInterval: time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build unread synchronizer: %v", err)
	}
	return &viewerEngine{client: client, cache: cache, commands: commands, likes: likes, unread: unread}
}

func TestReviewFlowEndToEnd(testContext *testing.T) {
	backend := startBackend(testContext)
	author := newViewerEngine(testContext, backend.URL, "user-author", "Ada")
	replier := newViewerEngine(testContext, backend.URL, "user-replier", "Grace")

	ctx := context.Background()
	const submissionID = "submission-42"

	root, err := author.commands.AddRootComment(ctx, submissionID, "off-by-one on the loop bound", intPtr(17))
	if err != nil {
		testContext.Fatalf("failed to add root comment: %v", err)
	}
	if root.LineNumber == nil || *root.LineNumber != 17 {
		testContext.Fatalf("expected root anchored at line 17, got %v", root.LineNumber)
	}

	// The reply lands on the author's alarm feed and under the root.
	reply, err := replier.commands.AddReply(ctx, submissionID, root.CommentID, "good catch")
	if err != nil {
		testContext.Fatalf("failed to add reply: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != root.CommentID {
		testContext.Fatalf("expected reply parented to root")
	}

	thread, err := author.cache.Thread(ctx, submissionID)
	if err != nil {
		testContext.Fatalf("failed to fetch thread: %v", err)
	}
	if len(thread) != 1 || len(thread[0].Replies) != 1 {
		testContext.Fatalf("expected one root with one reply, got %d roots", len(thread))
	}

	// The server is the depth authority even when the local cache is warm.
	if _, err := replier.commands.AddReply(ctx, submissionID, reply.CommentID, "too deep"); err == nil {
		testContext.Fatalf("expected reply-to-reply to be refused")
	}

	author.unread.Refresh(ctx)
	if got := author.unread.Count(); got != 1 {
		testContext.Fatalf("expected one unread alarm for the author, got %d", got)
	}

	// Opening the panel zeroes optimistically; the list fetch marks alarms
	// read server-side so the authoritative count converges on the same zero.
	author.unread.PanelOpened()
	if got := author.unread.Count(); got != 0 {
		testContext.Fatalf("expected optimistic zero, got %d", got)
	}
	listed, err := author.client.ListAlarms(ctx)
	if err != nil {
		testContext.Fatalf("failed to list alarms: %v", err)
	}
	if len(listed) != 1 || listed[0].AlarmType != string(alarms.TypeNewReply) {
		testContext.Fatalf("expected one reply alarm, got %+v", listed)
	}
	author.unread.Refresh(ctx)
	if got := author.unread.Count(); got != 0 {
		testContext.Fatalf("expected converged zero after list, got %d", got)
	}

	classified := reviewsync.Classify(listed)
	if len(classified.NewComments) != 1 || len(classified.Invites) != 0 {
		testContext.Fatalf("expected the reply alarm in the comment section")
	}

	// Like toggled twice returns the pair to its original state.
	if err := author.likes.Toggle(ctx, submissionID, reply.CommentID); err != nil {
		testContext.Fatalf("failed to like: %v", err)
	}
	liked, _, _ := author.cache.Lookup(submissionID, reply.CommentID)
	if !liked.ViewerHasLiked || liked.LikeCount != 1 {
		testContext.Fatalf("expected (1, liked) after toggle, got (%d, %v)", liked.LikeCount, liked.ViewerHasLiked)
	}
	if err := author.likes.Toggle(ctx, submissionID, reply.CommentID); err != nil {
		testContext.Fatalf("failed to unlike: %v", err)
	}
	unliked, _, _ := author.cache.Lookup(submissionID, reply.CommentID)
	if unliked.ViewerHasLiked || unliked.LikeCount != 0 {
		testContext.Fatalf("expected (0, unliked) after second toggle, got (%d, %v)", unliked.LikeCount, unliked.ViewerHasLiked)
	}

	// Deleting the root cascades its reply and the refetched thread is empty.
	if err := author.commands.DeleteComment(ctx, submissionID, root.CommentID); err != nil {
		testContext.Fatalf("failed to delete root: %v", err)
	}
	remaining, err := author.cache.Thread(ctx, submissionID)
	if err != nil {
		testContext.Fatalf("failed to refetch thread: %v", err)
	}
	if len(remaining) != 0 {
		testContext.Fatalf("expected empty thread after root delete, got %d", len(remaining))
	}
}

func TestChannelDeliversAlarmPush(testContext *testing.T) {
	backend := startBackend(testContext)
	author := newViewerEngine(testContext, backend.URL, "push-author", "Ada")
	replier := newViewerEngine(testContext, backend.URL, "push-replier", "Grace")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const submissionID = "submission-push"

	counterSignals := make(chan struct{}, 8)
	channel, err := reviewsync.NewChannelManager(reviewsync.ChannelManagerConfig{
		Client:               author.client,
		OnCounterInvalidated: func() { counterSignals <- struct{}{} },
		OnListInvalidated:    func() {},
	})
	if err != nil {
		testContext.Fatalf("failed to build channel manager: %v", err)
	}
	channel.Listen(ctx)
	defer channel.Close()

	// Give the stream a moment to connect before provoking the push.
	deadline := time.Now().Add(5 * time.Second)
	for channel.State() != reviewsync.StateOpen {
		if time.Now().After(deadline) {
			testContext.Fatalf("stream never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	root, err := author.commands.AddRootComment(ctx, submissionID, "root", nil)
	if err != nil {
		testContext.Fatalf("failed to add root: %v", err)
	}
	if _, err := replier.commands.AddReply(ctx, submissionID, root.CommentID, "ping"); err != nil {
		testContext.Fatalf("failed to add reply: %v", err)
	}

	select {
	case <-counterSignals:
	case <-time.After(5 * time.Second):
		testContext.Fatalf("timed out waiting for the alarm push")
	}

	author.unread.Refresh(ctx)
	if got := author.unread.Count(); got != 1 {
		testContext.Fatalf("expected the pushed alarm to raise the count to 1, got %d", got)
	}
}

func intPtr(value int) *int {
	return &value
}
