package alarms

import "strings"

// AlarmType is the closed enumeration of server-originated notification kinds.
// Every group-lifecycle type carries the "group." prefix; clients partition
// the invite tab on that prefix alone.
type AlarmType string

const (
	// TypeNewComment fires when someone comments on a viewer's submission.
	TypeNewComment AlarmType = "comment.new"
	// TypeNewReply fires when someone replies to a viewer's comment.
	TypeNewReply AlarmType = "comment.reply"
	// TypeReviewRequired fires when a viewer is assigned a submission to review.
	TypeReviewRequired AlarmType = "review.required"
	// TypeGroupInvite fires when a viewer is invited to a study group.
	TypeGroupInvite AlarmType = "group.invite"
	// TypeGroupInviteRejected fires when a viewer's invite was declined.
	TypeGroupInviteRejected AlarmType = "group.invite_rejected"
	// TypeGroupJoinApplication fires when someone applies to join a group the viewer administers.
	TypeGroupJoinApplication AlarmType = "group.join_application"
)

// GroupTypePrefix marks the alarm family surfaced on the invite tab.
const GroupTypePrefix = "group."

// IsGroupEvent reports whether the type belongs to the group-lifecycle family.
func (t AlarmType) IsGroupEvent() bool {
	return strings.HasPrefix(string(t), GroupTypePrefix)
}

// Known reports whether the type is part of the closed enumeration.
func (t AlarmType) Known() bool {
	switch t {
	case TypeNewComment, TypeNewReply, TypeReviewRequired,
		TypeGroupInvite, TypeGroupInviteRejected, TypeGroupJoinApplication:
		return true
	default:
		return false
	}
}

// Alarm models a persisted notification record. PayloadJSON carries opaque
// cross-references (submission, program, group identifiers) used by clients
// for navigation only, never as a source of local state.
type Alarm struct {
	AlarmID          string    `gorm:"column:alarm_id;primaryKey;size:190;not null"`
	UserID           string    `gorm:"column:user_id;size:190;not null;index:idx_alarms_user_read,priority:1"`
	AlarmType        AlarmType `gorm:"column:alarm_type;size:64;not null"`
	PayloadJSON      string    `gorm:"column:payload_json;type:text;not null;default:''"`
	Message          string    `gorm:"column:message;type:text;not null;default:''"`
	IsRead           bool      `gorm:"column:is_read;not null;default:false;index:idx_alarms_user_read,priority:2"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Alarm) TableName() string {
	return "alarms"
}
