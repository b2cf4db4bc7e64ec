package teleop

import (
	"sync"
	"time"
)

// VelocitySnapshot is the intent and scale group as last written.
type VelocitySnapshot struct {
	Intent Intent
	Speed  float64
	Turn   float64
	Done   bool
}

// Velocity is a single-slot mailbox holding the latest intent and speed
// scales. Writers overwrite the whole group at once; an update that the
// reader has not seen yet is replaced, never queued.
type Velocity struct {
	mu     sync.Mutex
	state  VelocitySnapshot
	notify chan struct{} // holds at most one pending wake-up
}

// NewVelocity returns a zeroed mailbox.
func NewVelocity() *Velocity {
	return &Velocity{notify: make(chan struct{}, 1)}
}

// Update overwrites the group and wakes the reader.
func (v *Velocity) Update(intent Intent, speed, turn float64) {
	v.mu.Lock()
	v.state.Intent = intent
	v.state.Speed = speed
	v.state.Turn = turn
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
		// Wake-up already pending
	}
}

// Wait blocks until Update is called or timeout elapses, then returns the
// current group. A zero timeout waits for an update forever.
func (v *Velocity) Wait(timeout time.Duration) VelocitySnapshot {
	if timeout > 0 {
		t := time.NewTimer(timeout)
		select {
		case <-v.notify:
		case <-t.C:
		}
		t.Stop()
	} else {
		<-v.notify
	}
	return v.Snapshot()
}

// Snapshot returns the current group without waiting.
func (v *Velocity) Snapshot() VelocitySnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Terminate marks the mailbox done and writes a zero update so a waiting
// reader wakes up and sees both.
func (v *Velocity) Terminate() {
	v.mu.Lock()
	v.state.Done = true
	v.mu.Unlock()
	v.Update(Intent{}, 0, 0)
}
