package alarms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrUnknownAlarmType indicates a type outside the closed enumeration.
	ErrUnknownAlarmType = errors.New("alarms: unknown alarm type")
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
	opServiceNew  = "alarms.service.new"
	opCreate      = "alarms.create"
	opList        = "alarms.list"
	opUnreadCount = "alarms.unread_count"
	opDeleteBatch = "alarms.delete_batch"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Publisher receives a signal whenever a new alarm lands for a user. The
// payload is deliberately not forwarded; subscribers re-fetch instead of
// trusting pushed bodies.
type Publisher interface {
	AlarmCreated(userID string)
}

// IDProvider issues identifiers for new alarms.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the alarm service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Counters   *CounterCache
	Logger     *zap.Logger
}

// Service owns notification records and the authoritative unread count.
// Listing a user's alarms marks them read as a documented side effect of the
// call; the unread count a client fetches right after a list is therefore zero.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  Publisher
	counters   *CounterCache
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
		publisher:  cfg.Publisher,
		counters:   cfg.Counters,
		logger:     logger,
	}, nil
}

// CreateRequest carries the input for a new alarm.
type CreateRequest struct {
	UserID    string
	AlarmType AlarmType
	Payload   map[string]string
	Message   string
}

// Create persists an alarm for one recipient and signals the publisher.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Alarm, error) {
	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		return Alarm{}, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}
	if !request.AlarmType.Known() {
		return Alarm{}, newServiceError(opCreate, "unknown_type", fmt.Errorf("%w: %q", ErrUnknownAlarmType, request.AlarmType))
	}

	payloadJSON := ""
	if len(request.Payload) > 0 {
		encoded, err := json.Marshal(request.Payload)
		if err != nil {
			return Alarm{}, newServiceError(opCreate, "payload_encode_failed", err)
		}
		payloadJSON = string(encoded)
	}

	alarmID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Alarm{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	alarm := Alarm{
		AlarmID:          alarmID,
		UserID:           userID,
		AlarmType:        request.AlarmType,
		PayloadJSON:      payloadJSON,
		Message:          request.Message,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	if err := s.db.WithContext(ctx).Create(&alarm).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return Alarm{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.invalidateCounter(ctx, userID)
	if s.publisher != nil {
		s.publisher.AlarmCreated(userID)
	}

	return alarm, nil
}

// List returns every alarm for the user and marks the unread ones read in the
// same transaction. The read mark is the documented side effect of listing:
// fetching the panel is what acknowledges the batch.
func (s *Service) List(ctx context.Context, userID string) ([]Alarm, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}

	var listed []Alarm
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).
			Order("created_at_s DESC, alarm_id DESC").
			Find(&listed).Error; err != nil {
			s.logError(opList, "query_failed", err, zap.String("user_id", userID))
			return newServiceError(opList, "query_failed", err)
		}

		if err := tx.Model(&Alarm{}).
			Where("user_id = ? AND is_read = ?", userID, false).
			Update("is_read", true).Error; err != nil {
			s.logError(opList, "mark_read_failed", err, zap.String("user_id", userID))
			return newServiceError(opList, "mark_read_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.invalidateCounter(ctx, userID)
	return listed, nil
}

// UnreadCount returns the authoritative number of unread alarms for the user,
// served from the counter cache when one is configured.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, newServiceError(opUnreadCount, "missing_user_id", errMissingUserID)
	}

	if s.counters != nil {
		if cached, ok, err := s.counters.Get(ctx, userID); err != nil {
			s.logError(opUnreadCount, "cache_read_failed", err, zap.String("user_id", userID))
		} else if ok {
			return cached, nil
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Alarm{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}

	if s.counters != nil {
		if err := s.counters.Set(ctx, userID, count); err != nil {
			s.logError(opUnreadCount, "cache_write_failed", err, zap.String("user_id", userID))
		}
	}

	return count, nil
}

// DeleteBatch removes the identified alarms, scoped to the acting user.
// Identifiers that do not belong to the user are ignored rather than failing
// the batch.
func (s *Service) DeleteBatch(ctx context.Context, userID string, alarmIDs []string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opDeleteBatch, "missing_user_id", errMissingUserID)
	}
	if len(alarmIDs) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND alarm_id IN ?", userID, alarmIDs).
		Delete(&Alarm{}).Error; err != nil {
		s.logError(opDeleteBatch, "delete_failed", err, zap.String("user_id", userID))
		return newServiceError(opDeleteBatch, "delete_failed", err)
	}

	s.invalidateCounter(ctx, userID)
	return nil
}

func (s *Service) invalidateCounter(ctx context.Context, userID string) {
	if s.counters == nil {
		return
	}
	if err := s.counters.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("counter cache invalidation failed",
			zap.String("user_id", userID), zap.Error(err))
	}
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
	s.logger.Error("alarm service error", attrs...)
}
