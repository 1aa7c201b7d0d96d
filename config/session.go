package config

import (
	"fmt"
	"math"
	"sync"

	"web/papercloud/animation"
	"web/papercloud/paper"
	"web/papercloud/render"
)

// Values are the session tunables at one instant.
type Values struct {
	Speed    float64                `json:"speed"` // papers per second
	Depth    int                    `json:"depth"`
	ViewMode render.ViewMode        `json:"viewMode"`
	Rewind   animation.RewindPolicy `json:"rewind"`
}

// Update is a partial change; nil fields are left as they are.
type Update struct {
	Speed    *float64 `json:"speed,omitempty"`
	Depth    *int     `json:"depth,omitempty"`
	ViewMode *string  `json:"viewMode,omitempty"`
	Rewind   *string  `json:"rewind,omitempty"`
	// CycleViewMode advances the view mode once, after ViewMode is applied.
	CycleViewMode bool `json:"cycleViewMode,omitempty"`
}

// Session holds the tunables shared between the frame loop, the HTTP
// handlers and the config watcher.
type Session struct {
	mu   sync.RWMutex
	vals Values
}

// NewSession starts from vals with the depth clamped.
func NewSession(vals Values) *Session {
	vals.Depth = paper.ClampDepth(vals.Depth)
	return &Session{vals: vals}
}

// Load returns a copy of the current values.
func (s *Session) Load() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals
}

// Store replaces every value.
func (s *Session) Store(vals Values) {
	vals.Depth = paper.ClampDepth(vals.Depth)
	s.mu.Lock()
	s.vals = vals
	s.mu.Unlock()
}

func (s *Session) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals.Speed
}

func (s *Session) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals.Depth
}

func (s *Session) ViewMode() render.ViewMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals.ViewMode
}

func (s *Session) Rewind() animation.RewindPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals.Rewind
}

// SetSpeed rejects non-finite speeds.
func (s *Session) SetSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("speed must be finite, got %v", speed)
	}
	s.mu.Lock()
	s.vals.Speed = speed
	s.mu.Unlock()
	return nil
}

// SetDepth clamps depth to the supported range.
func (s *Session) SetDepth(depth int) {
	s.mu.Lock()
	s.vals.Depth = paper.ClampDepth(depth)
	s.mu.Unlock()
}

func (s *Session) SetViewMode(m render.ViewMode) {
	s.mu.Lock()
	s.vals.ViewMode = m
	s.mu.Unlock()
}

// CycleViewMode moves to the next view mode and returns it.
func (s *Session) CycleViewMode() render.ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals.ViewMode = s.vals.ViewMode.Next()
	return s.vals.ViewMode
}

func (s *Session) SetRewind(p animation.RewindPolicy) {
	s.mu.Lock()
	s.vals.Rewind = p
	s.mu.Unlock()
}

// Apply validates u as a whole and then applies it. On error nothing
// changes.
func (s *Session) Apply(u Update) (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.vals
	if u.Speed != nil {
		if math.IsNaN(*u.Speed) || math.IsInf(*u.Speed, 0) {
			return s.vals, fmt.Errorf("speed must be finite, got %v", *u.Speed)
		}
		next.Speed = *u.Speed
	}
	if u.Depth != nil {
		next.Depth = paper.ClampDepth(*u.Depth)
	}
	if u.ViewMode != nil {
		m, err := render.ParseViewMode(*u.ViewMode)
		if err != nil {
			return s.vals, err
		}
		next.ViewMode = m
	}
	if u.Rewind != nil {
		p, err := animation.ParseRewindPolicy(*u.Rewind)
		if err != nil {
			return s.vals, err
		}
		next.Rewind = p
	}
	if u.CycleViewMode {
		next.ViewMode = next.ViewMode.Next()
	}
	s.vals = next
	return next, nil
}
