package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCourseNotFound catalog has no such course
	ErrCourseNotFound = errors.New("course not found")
	// ErrMalformedCourse catalog entry failed validation
	ErrMalformedCourse = errors.New("malformed course")
	// ErrLessonNotFound lesson id is not part of the course
	ErrLessonNotFound = errors.New("lesson not found in course")
	// ErrLessonTypeMismatch signal cannot be applied to the lesson's content type
	ErrLessonTypeMismatch = errors.New("signal does not match lesson type")
	// ErrLessonNotOpen signal for a lesson that is not the open one
	ErrLessonNotOpen = errors.New("lesson is not open in this session")
	// ErrNoGrader quiz answers need a grading service
	ErrNoGrader = errors.New("no quiz grading service configured")
	// ErrSessionClosed session has been torn down
	ErrSessionClosed = errors.New("playback session is closed")
	// ErrSessionNotFound no live session with that id
	ErrSessionNotFound = errors.New("playback session not found")
	// ErrOffline flush short-circuited because connectivity is down
	ErrOffline = errors.New("offline, queued locally")
	// ErrSlotBusy another SCORM runtime is installed
	ErrSlotBusy = errors.New("scorm api slot is occupied by another lesson")
	// ErrInvalidPayload progress or statement payload failed validation
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrNotScormLesson lesson has no SCORM package
	ErrNotScormLesson = errors.New("lesson is not a scorm lesson")
)

// PolicySeekViolation learner tried to scrub ahead of watched content.
// The playhead must be snapped back to SnapBackTo.
type PolicySeekViolation struct {
	LessonID        string  `json:"lesson_id"`
	Requested       float64 `json:"requested"`    // fraction
	SnapBackTo      float64 `json:"snap_back_to"` // fraction
	SnapBackSeconds float64 `json:"snap_back_seconds,omitempty"`
}

func (e *PolicySeekViolation) Error() string {
	return fmt.Sprintf("seek to %.1f%% of lesson %s is ahead of watched content (%.1f%%)",
		e.Requested*100, e.LessonID, e.SnapBackTo*100)
}

// GateViolation access to a locked lesson
type GateViolation struct {
	LessonID string    `json:"lesson_id"`
	Ref      LessonRef `json:"ref"`
	Reason   string    `json:"reason"`
}

func (e *GateViolation) Error() string {
	return fmt.Sprintf("lesson %s is locked: %s", e.LessonID, e.Reason)
}

// SyncErrorKind failure class of a flush
type SyncErrorKind int

// sync failure classes
const (
	SyncTransient SyncErrorKind = iota
	SyncPermanent
)

func (k SyncErrorKind) String() string {
	if k == SyncPermanent {
		return "permanent"
	}
	return "transient"
}

// SyncError failure reported by a sync transport
type SyncError struct {
	Kind   SyncErrorKind
	Status int // HTTP status, 0 for network failures
	Err    error
}

func (e *SyncError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync %s failure (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("sync %s failure: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError classify err by HTTP status
func NewSyncError(status int, err error) *SyncError {
	return &SyncError{Kind: ClassifyStatus(status), Status: status, Err: err}
}

// ClassifyStatus only payload rejections are permanent. Auth and routing
// failures (401, 403, 404) and server errors may heal and stay transient.
func ClassifyStatus(status int) SyncErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return SyncPermanent
	}
	return SyncTransient
}

// IsPermanentSyncError reports whether err was a permanent rejection
func IsPermanentSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == SyncPermanent
}
