package teleop

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode selects how the publisher treats operator intent.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeManual
	ModeManualAvoid
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeManualAvoid:
		return "avoid"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Active returns true for modes that run a teleop session.
func (m Mode) Active() bool {
	return m == ModeManual || m == ModeManualAvoid
}

// ParseMode converts a mode name into a Mode. The numeric robot state codes
// 0, 2 and 3 are accepted as well.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "idle", "0":
		return ModeIdle, nil
	case "manual", "2":
		return ModeManual, nil
	case "avoid", "manual-avoid", "3":
		return ModeManualAvoid, nil
	default:
		return ModeIdle, fmt.Errorf("unknown mode %q", value)
	}
}

// ModeSource reports the current mode. It is polled on every cycle.
type ModeSource interface {
	Mode() Mode
}

// ModeSetter is a ModeSource that the controller can reset to idle.
type ModeSetter interface {
	ModeSource
	SetMode(Mode)
}

// ModeSwitch is a ModeSetter safe for concurrent use.
type ModeSwitch struct {
	v atomic.Int32
}

// NewModeSwitch returns a switch set to m.
func NewModeSwitch(m Mode) *ModeSwitch {
	s := &ModeSwitch{}
	s.SetMode(m)
	return s
}

func (s *ModeSwitch) Mode() Mode {
	return Mode(s.v.Load())
}

func (s *ModeSwitch) SetMode(m Mode) {
	s.v.Store(int32(m))
}
