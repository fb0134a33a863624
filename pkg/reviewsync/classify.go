package reviewsync

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// groupAlarmPrefix marks the alarm family shown on the invite tab.
const groupAlarmPrefix = "group."

// defaultVisibleLimit caps a collapsed section at its first items.
const defaultVisibleLimit = 10

// Section names one slice of the partitioned notification panel.
type Section string

const (
	// SectionInvites holds every group-lifecycle alarm.
	SectionInvites Section = "invites"
	// SectionRequiredReview holds review assignments.
	SectionRequiredReview Section = "required_review"
	// SectionNewComments holds everything else on the notification tab.
	SectionNewComments Section = "new_comments"
)

const alarmTypeReviewRequired = "review.required"

// IsGroupAlarm reports whether a type belongs on the invite tab. The prefix
// alone decides; the panel never inspects payloads for partitioning.
func IsGroupAlarm(alarmType string) bool {
	return strings.HasPrefix(alarmType, groupAlarmPrefix)
}

// SectionOf assigns an alarm type to exactly one section.
func SectionOf(alarmType string) Section {
	if IsGroupAlarm(alarmType) {
		return SectionInvites
	}
	if alarmType == alarmTypeReviewRequired {
		return SectionRequiredReview
	}
	return SectionNewComments
}

// Classified is the flat alarm list split into the three panel sections,
// each sorted newest first.
type Classified struct {
	Invites        []Alarm
	RequiredReview []Alarm
	NewComments    []Alarm
}

// Section returns one partition by name.
func (c Classified) Section(section Section) []Alarm {
	switch section {
	case SectionInvites:
		return c.Invites
	case SectionRequiredReview:
		return c.RequiredReview
	default:
		return c.NewComments
	}
}

// Classify partitions alarms into sections and orders each newest first. The
// sort is stable, so server ties keep their relative order regardless of how
// the server happened to return them.
func Classify(alarms []Alarm) Classified {
	classified := Classified{}
	for _, alarm := range alarms {
		switch SectionOf(alarm.AlarmType) {
		case SectionInvites:
			classified.Invites = append(classified.Invites, alarm)
		case SectionRequiredReview:
			classified.RequiredReview = append(classified.RequiredReview, alarm)
		default:
			classified.NewComments = append(classified.NewComments, alarm)
		}
	}
	newestFirst(classified.Invites)
	newestFirst(classified.RequiredReview)
	newestFirst(classified.NewComments)
	return classified
}

func newestFirst(alarms []Alarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		return alarms[i].CreatedAt > alarms[j].CreatedAt
	})
}

// PanelState tracks the notification panel's view state: per-section
// expansion and the bulk-delete selection over whatever the current filter
// shows.
type PanelState struct {
	visibleLimit int

	mu       sync.Mutex
	expanded map[Section]bool
	selected map[string]struct{}
}

// NewPanelState constructs a collapsed, unselected panel state.
func NewPanelState() *PanelState {
	return &PanelState{
		visibleLimit: defaultVisibleLimit,
		expanded:     make(map[Section]bool),
		selected:     make(map[string]struct{}),
	}
}

// Expanded reports whether a section is expanded. Sections start collapsed.
func (ps *PanelState) Expanded(section Section) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.expanded[section]
}

// ToggleExpanded flips one section's expansion independently of the others.
func (ps *PanelState) ToggleExpanded(section Section) {
	ps.mu.Lock()
	ps.expanded[section] = !ps.expanded[section]
	ps.mu.Unlock()
}

// Visible returns the items a section currently shows: everything when
// expanded, otherwise at most the first visibleLimit items.
func (ps *PanelState) Visible(section Section, items []Alarm) []Alarm {
	if ps.Expanded(section) || len(items) <= ps.visibleLimit {
		return items
	}
	return items[:ps.visibleLimit]
}

// Selected reports whether one alarm is marked for deletion.
func (ps *PanelState) Selected(alarmID string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.selected[alarmID]
	return ok
}

// ToggleSelected flips one alarm's deletion mark.
func (ps *PanelState) ToggleSelected(alarmID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.selected[alarmID]; ok {
		delete(ps.selected, alarmID)
		return
	}
	ps.selected[alarmID] = struct{}{}
}

// ToggleSelectAll operates on the currently filtered view only. If every
// visible alarm is already selected, exactly that set is deselected;
// otherwise every visible alarm is selected. Alarms outside the filter are
// never touched either way.
func (ps *PanelState) ToggleSelectAll(visible []Alarm) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	allSelected := len(visible) > 0
	for _, alarm := range visible {
		if _, ok := ps.selected[alarm.AlarmID]; !ok {
			allSelected = false
			break
		}
	}

	if allSelected {
		for _, alarm := range visible {
			delete(ps.selected, alarm.AlarmID)
		}
		return
	}
	for _, alarm := range visible {
		ps.selected[alarm.AlarmID] = struct{}{}
	}
}

// SelectedIDs returns the deletion batch in deterministic order.
func (ps *PanelState) SelectedIDs() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ids := make([]string, 0, len(ps.selected))
	for id := range ps.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearSelection drops every deletion mark, typically after a batch delete.
func (ps *PanelState) ClearSelection() {
	ps.mu.Lock()
	ps.selected = make(map[string]struct{})
	ps.mu.Unlock()
}

// Navigation describes where a clicked alarm routes. A nil result means the
// alarm is inert and a click does nothing.
type Navigation struct {
	SubmissionID string
	GroupID      string
	// OpenJoinRequests asks the group page to auto-open its join-request
	// review modal on arrival.
	OpenJoinRequests bool
}

type alarmNavigationPayload struct {
	SubmissionID string `json:"submission_id"`
	GroupID      string `json:"group_id"`
}

// Route is the per-type click dispatch. Identifiers are read from the
// payload for navigation only; a rejected invite routes nowhere by design.
func Route(alarm Alarm) *Navigation {
	var payload alarmNavigationPayload
	if len(alarm.Payload) > 0 {
		_ = json.Unmarshal(alarm.Payload, &payload)
	}

	switch alarm.AlarmType {
	case "comment.new", "comment.reply", alarmTypeReviewRequired:
		if payload.SubmissionID == "" {
			return nil
		}
		return &Navigation{SubmissionID: payload.SubmissionID}
	case "group.invite":
		if payload.GroupID == "" {
			return nil
		}
		return &Navigation{GroupID: payload.GroupID}
	case "group.join_application":
		if payload.GroupID == "" {
			return nil
		}
		return &Navigation{GroupID: payload.GroupID, OpenJoinRequests: true}
	default:
		// group.invite_rejected and unknown types are inert.
		return nil
	}
}
