package pinmap

import (
	"fmt"
	"sync"
)

// SensorRef identifies one physical sensor in a configuration. Instance
// separates two sensors of the same model; zero is treated as 1.
type SensorRef struct {
	SensorID string `json:"sensorId"`
	Instance int    `json:"instance,omitempty"`
}

// Number returns the 1-based instance number.
func (r SensorRef) Number() int {
	if r.Instance < 1 {
		return 1
	}
	return r.Instance
}

// Key returns a stable identity string such as "ds18b20#2".
func (r SensorRef) Key() string {
	return fmt.Sprintf("%s#%d", r.SensorID, r.Number())
}

// Assignment binds a physical pin to one logical pin of a sensor.
type Assignment struct {
	PinID     string    `json:"pinId"`
	GPIO      int       `json:"gpio"`
	Sensor    SensorRef `json:"sensor"`
	SensorPin string    `json:"sensorPin"`
}

// SensorGroup is the set of assignments belonging to one sensor.
type SensorGroup struct {
	Sensor      SensorRef    `json:"sensor"`
	Assignments []Assignment `json:"assignments"`
}

// Store is an ordered list of assignments holding at most one entry per pin.
type Store struct {
	mu          sync.RWMutex
	assignments []Assignment
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Assign replaces any assignment on pinID and appends the new one.
func (s *Store) Assign(pinID string, gpio int, sensor SensorRef, sensorPin string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments = without(s.assignments, pinID)
	s.assignments = append(s.assignments, Assignment{
		PinID:     pinID,
		GPIO:      gpio,
		Sensor:    sensor,
		SensorPin: sensorPin,
	})
}

// Unassign removes the assignment on pinID, if any.
func (s *Store) Unassign(pinID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments = without(s.assignments, pinID)
}

// Get returns the assignment on pinID.
func (s *Store) Get(pinID string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments {
		if a.PinID == pinID {
			return a, true
		}
	}
	return Assignment{}, false
}

// All returns a copy of the assignments in insertion order.
func (s *Store) All() []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Assignment(nil), s.assignments...)
}

// Len returns the number of assignments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments)
}

// Reset drops every assignment.
func (s *Store) Reset() {
	s.mu.Lock()
	s.assignments = nil
	s.mu.Unlock()
}

// ListBySensor groups assignments by sensor, ordered by each sensor's first
// appearance in the store.
func (s *Store) ListBySensor() []SensorGroup {
	return GroupBySensor(s.All())
}

// GroupBySensor groups a list of assignments the same way Store.ListBySensor does.
func GroupBySensor(assignments []Assignment) []SensorGroup {
	var groups []SensorGroup
	index := make(map[string]int)

	for _, a := range assignments {
		key := a.Sensor.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, SensorGroup{Sensor: a.Sensor})
		}
		groups[i].Assignments = append(groups[i].Assignments, a)
	}
	return groups
}

func without(list []Assignment, pinID string) []Assignment {
	out := list[:0]
	for _, a := range list {
		if a.PinID != pinID {
			out = append(out, a)
		}
	}
	return out
}
