package teleop

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/obstacle"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

// recordingSink records every published command.
type recordingSink struct {
	mu    sync.Mutex
	cmds  []robot.Twist
	conns int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{conns: 1}
}

func (s *recordingSink) Publish(ctx context.Context, cmd robot.Twist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *recordingSink) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *recordingSink) all() []robot.Twist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]robot.Twist(nil), s.cmds...)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cmds)
}

func (s *recordingSink) last() (robot.Twist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cmds) == 0 {
		return robot.Twist{}, false
	}
	return s.cmds[len(s.cmds)-1], true
}

// fixedFlags is an ObstacleSource with constant flags.
type fixedFlags obstacle.Flags

func (f fixedFlags) Flags() obstacle.Flags {
	return obstacle.Flags(f)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
