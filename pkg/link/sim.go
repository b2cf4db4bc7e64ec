package link

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

// SimConfig describes the simulated world.
type SimConfig struct {
	Wall     float64 // distance to a wall straight ahead at start, meters
	Samples  int     // samples per scan, spread over 180 degrees right to left
	Rate     float64 // scans per second
	MaxRange float64 // reported when a ray misses the wall
}

func (c SimConfig) withDefaults() SimConfig {
	if c.Wall <= 0 {
		c.Wall = 3
	}
	if c.Samples <= 0 {
		c.Samples = 720
	}
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.MaxRange <= 0 {
		c.MaxRange = 30
	}
	return c
}

// minClearance keeps the simulated base from driving into the wall.
const minClearance = 0.05

// Sim is an in-memory Port that plays the base controller. It integrates
// the commanded twist and reports scans of a single wall at x = Wall.
type Sim struct {
	cfg SimConfig

	mu      sync.Mutex
	cmd     robot.Twist
	x, y, h float64
	pending []byte
	cmds    int

	pr        *io.PipeReader
	pw        *io.PipeWriter
	done      chan struct{}
	closeOnce sync.Once
}

// NewSim creates a simulated base. Scans start flowing once Start is called.
func NewSim(cfg SimConfig) *Sim {
	pr, pw := io.Pipe()
	return &Sim{
		cfg:  cfg.withDefaults(),
		pr:   pr,
		pw:   pw,
		done: make(chan struct{}),
	}
}

// Start sends the hello and then a scan every 1/Rate seconds.
func (s *Sim) Start() {
	go s.run()
}

func (s *Sim) run() {
	if !s.send(Message{Type: TypeHello}) {
		return
	}

	dt := 1 / s.cfg.Rate
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Step(dt)
			if !s.send(Message{Type: TypeScan, Ranges: s.Scan()}) {
				return
			}
		}
	}
}

func (s *Sim) send(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	_, err = s.pw.Write(append(data, '\n'))
	return err == nil
}

// Read returns lines sent by the simulated base.
func (s *Sim) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Write accepts twist lines from the host.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, p...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := s.pending[:i]
		var cmd robot.Twist
		if err := json.Unmarshal(line, &cmd); err == nil {
			s.cmd = cmd
			s.cmds++
		}
		s.pending = s.pending[i+1:]
	}
	return len(p), nil
}

// Close stops the scan stream. Pending reads return io.EOF.
func (s *Sim) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pw.Close()
	})
	return nil
}

// LastCommand returns the last twist received and how many were received.
func (s *Sim) LastCommand() (robot.Twist, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd, s.cmds
}

// Pose returns position and heading in the start frame.
func (s *Sim) Pose() (x, y, heading float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y, s.h
}

// Step advances the simulation by dt seconds under the last command.
func (s *Sim) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vx, vy := s.cmd.Linear.X, s.cmd.Linear.Y
	sin, cos := math.Sincos(s.h)
	s.x += (vx*cos - vy*sin) * dt
	s.y += (vx*sin + vy*cos) * dt
	s.h += s.cmd.Angular.Z * dt

	if limit := s.cfg.Wall - minClearance; s.x > limit {
		s.x = limit
	}
}

// Scan returns the ranges seen from the current pose, right to left.
func (s *Sim) Scan() []float64 {
	s.mu.Lock()
	x, h := s.x, s.h
	s.mu.Unlock()

	n := s.cfg.Samples
	ranges := make([]float64, n)
	for i := range ranges {
		angle := h - math.Pi/2
		if n > 1 {
			angle += math.Pi * float64(i) / float64(n-1)
		}
		ranges[i] = s.cfg.MaxRange
		if c := math.Cos(angle); c > 0 {
			ranges[i] = math.Min((s.cfg.Wall-x)/c, s.cfg.MaxRange)
		}
	}
	return ranges
}
