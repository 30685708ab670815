package model

import (
	"time"

	"github.com/google/uuid"
)

// MediaStatus is the health state reported to a media source's owner.
type MediaStatus string

const (
	StatusOnline      MediaStatus = "ONLINE"
	StatusMissing     MediaStatus = "MISSING"
	StatusCorrupt     MediaStatus = "CORRUPT"
	StatusUnsupported MediaStatus = "UNSUPPORTED"
	StatusUnreadable  MediaStatus = "UNREADABLE"
)

func (s MediaStatus) IsValid() bool {
	switch s {
	case StatusOnline, StatusMissing, StatusCorrupt, StatusUnsupported, StatusUnreadable:
		return true
	default:
		return false
	}
}

func (s MediaStatus) String() string {
	return string(s)
}

// StatusForError maps a media failure onto the status its owner should see.
// Only corrupt, unsupported, unreadable and missing failures are reported.
func StatusForError(err error) (MediaStatus, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return "", false
	}
	switch code {
	case CodeCorrupt:
		return StatusCorrupt, true
	case CodeUnsupported:
		return StatusUnsupported, true
	case CodeUnreadable:
		return StatusUnreadable, true
	case CodeMissing:
		return StatusMissing, true
	default:
		return "", false
	}
}

// StatusEvent is a status notification addressed to a media source owner.
type StatusEvent struct {
	OwnerID    uuid.UUID
	URI        string
	Status     MediaStatus
	Message    string
	OccurredAt time.Time
}
