package scorm

import (
	"sync"

	"github.com/pot-code/course-playback/internal/domain"
)

// API the object content finds under its well-known global name
type API interface {
	APIName() string
	Call(method string, args ...string) string
}

var _ API = &Runtime{}

// Slot the global API object of one playback context.
//
// At most one lesson owns the slot at a time: install on lesson launch,
// uninstall on teardown.
type Slot struct {
	mu    sync.RWMutex
	owner string
	api   API
}

// NewSlot create an empty slot
func NewSlot() *Slot {
	return &Slot{}
}

// Install make api visible to content on behalf of owner
func (s *Slot) Install(owner string, api API) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil && s.owner != owner {
		return domain.ErrSlotBusy
	}
	s.owner = owner
	s.api = api
	return nil
}

// Uninstall remove the api if owner still holds the slot
func (s *Slot) Uninstall(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api == nil || s.owner != owner {
		return false
	}
	s.owner = ""
	s.api = nil
	return true
}

// Lookup api installed under name ("API" or "API_1484_11")
func (s *Slot) Lookup(name string) (API, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.api == nil || s.api.APIName() != name {
		return nil, false
	}
	return s.api, true
}

// Owner lesson currently holding the slot
func (s *Slot) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}
