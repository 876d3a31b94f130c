package guard

import (
	"sync"
	"time"

	"github.com/your-org/blipguard/internal/mjpeg"
)

// State is the monitoring phase of a Source. It is derived, never stored.
type State int

const (
	Uninitialized State = iota
	Polling
	Cooldown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Polling:
		return "polling"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Source is one monitored feed together with its mutable guard state.
type Source struct {
	ID  string
	URL string

	// turn is held for the whole of a turn; a second turn never waits on it.
	turn sync.Mutex

	mu            sync.RWMutex
	baseline      *mjpeg.Frame
	cooldownUntil time.Time
}

// NewSource returns a Source with no baseline and no cooldown.
func NewSource(id, url string) *Source {
	if id == "" {
		id = url
	}
	return &Source{ID: id, URL: url}
}

// State reports the phase of the source at now.
func (s *Source) State(now time.Time) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.baseline == nil:
		return Uninitialized
	case !s.cooldownUntil.IsZero() && now.Before(s.cooldownUntil):
		return Cooldown
	default:
		return Polling
	}
}

// Baseline returns the reference frame, or nil before one was acquired.
func (s *Source) Baseline() *mjpeg.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline
}

// CooldownUntil returns the current cooldown expiry; zero means none was set.
func (s *Source) CooldownUntil() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cooldownUntil
}

// ResetBaseline drops the reference frame so the next turn captures a new one.
// Used when the camera behind the source was restarted or moved.
func (s *Source) ResetBaseline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = nil
}

// setBaseline stores frame unless a baseline already exists. It reports
// whether frame was taken.
func (s *Source) setBaseline(frame *mjpeg.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline != nil {
		return false
	}
	s.baseline = frame
	return true
}

func (s *Source) setCooldown(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = until
}

// Status is a point-in-time view of a Source.
type Status struct {
	SourceID      string     `json:"source_id"`
	State         string     `json:"state"`
	BaselineAt    *time.Time `json:"baseline_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

func (s *Source) status(now time.Time) Status {
	st := Status{SourceID: s.ID, State: s.State(now).String()}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.baseline != nil {
		at := s.baseline.CapturedAt
		st.BaselineAt = &at
	}
	if now.Before(s.cooldownUntil) {
		until := s.cooldownUntil
		st.CooldownUntil = &until
	}
	return st
}
