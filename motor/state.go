package motor

import (
	"sync"
	"time"
)

// MotorState is the published estimate plus the last commanded duty cycle.
type MotorState struct {
	Timestamp        float64 // ms since controller start
	Direction        Direction
	DutyCycle        float64
	Velocity         float64 // rad/s, magnitude
	VelocitySmoothed float64 // rad/s
	Position         float64 // rad
}

type estimate struct {
	at               time.Duration
	direction        Direction
	velocity         float64
	velocitySmoothed float64
	position         float64
}

// stateStore hands out copies; writers replace whole groups of fields in
// one critical section.
type stateStore struct {
	mu sync.RWMutex
	s  MotorState
}

func (st *stateStore) publish(e estimate) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Timestamp = float64(e.at) / float64(time.Millisecond)
	st.s.Direction = e.direction
	st.s.Velocity = e.velocity
	st.s.VelocitySmoothed = e.velocitySmoothed
	st.s.Position = e.position
}

func (st *stateStore) setDutyCycle(v float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.DutyCycle = v
}

func (st *stateStore) Snapshot() MotorState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}
