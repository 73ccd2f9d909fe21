package enums

import "fmt"

// EventStatus mirrors the lifecycle published by the event service.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCanceled  EventStatus = "canceled"
)

var validEventStatuses = []EventStatus{
	EventStatusDraft,
	EventStatusPublished,
	EventStatusCompleted,
	EventStatusCanceled,
}

func (s EventStatus) String() string {
	return string(s)
}

func (s EventStatus) IsValid() bool {
	for _, candidate := range validEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseEventStatus(value string) (EventStatus, error) {
	for _, candidate := range validEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event status %q", value)
}
