package review

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("comment-%d", p.next), nil
}

type tickingClock struct {
	current time.Time
}

func (c *tickingClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Comment{}, &CommentLike{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := &tickingClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustSubmissionID(t *testing.T, value string) SubmissionID {
	t.Helper()
	id, err := NewSubmissionID(value)
	if err != nil {
		t.Fatalf("unexpected submission id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCommentID(t *testing.T, value string) CommentID {
	t.Helper()
	id, err := NewCommentID(value)
	if err != nil {
		t.Fatalf("unexpected comment id error: %v", err)
	}
	return id
}

func intPtr(value int) *int {
	return &value
}
