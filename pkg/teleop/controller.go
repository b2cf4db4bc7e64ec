package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

// Config holds configuration for the controller.
type Config struct {
	Keys      KeyReader
	Modes     ModeSetter
	Sink      CommandSink
	Obstacles ObstacleSource

	Speed      float64       // initial linear scale, m/s
	Turn       float64       // initial angular scale, rad/s
	RepeatRate float64       // republish rate in Hz, 0 publishes on key events only
	KeyTimeout time.Duration // 0 blocks for the next key
}

// Controller runs teleop sessions whenever the mode is manual or
// manual-with-avoidance.
type Controller struct {
	keys       KeyReader
	modes      ModeSetter
	sink       CommandSink
	obstacles  ObstacleSource
	speed      float64
	turn       float64
	repeatRate float64
	keyTimeout time.Duration

	mu      sync.RWMutex
	running bool
	state   State

	logCh   logger
	helpCh  chan string
	stateCh chan State
	cmdCh   chan robot.Twist
}

// State is the operator-facing state of the current session.
type State struct {
	Active bool
	Intent Intent
	Speed  float64
	Turn   float64
}

// NewController creates a new teleoperation controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("no key reader")
	}
	if cfg.Modes == nil {
		return nil, fmt.Errorf("no mode source")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("no command sink")
	}
	if cfg.Speed == 0 {
		cfg.Speed = robot.DefaultSpeed
	}
	if cfg.Turn == 0 {
		cfg.Turn = robot.DefaultTurn
	}

	return &Controller{
		keys:       cfg.Keys,
		modes:      cfg.Modes,
		sink:       cfg.Sink,
		obstacles:  cfg.Obstacles,
		speed:      cfg.Speed,
		turn:       cfg.Turn,
		repeatRate: cfg.RepeatRate,
		keyTimeout: cfg.KeyTimeout,
		logCh:      make(logger, 10),
		helpCh:     make(chan string, 1),
		stateCh:    make(chan State, 1),
		cmdCh:      make(chan robot.Twist, 1),
	}, nil
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Help returns a channel that receives the key binding banner at the start
// of each session and again on every 15th speed change.
func (c *Controller) Help() <-chan string {
	return c.helpCh
}

// States returns a channel that receives session state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Commands returns a channel that receives published commands.
func (c *Controller) Commands() <-chan robot.Twist {
	return c.cmdCh
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) log(format string, args ...any) {
	c.logCh.log(format, args...)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	sendLatest(c.stateCh, s)
}

// Start polls the mode and runs a session each time it becomes active. It
// returns when ctx ends.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.log("Waiting for robot behaviour selection")

	ticker := time.NewTicker(time.Second / 20)
	defer ticker.Stop()

	for {
		if mode := c.modes.Mode(); mode.Active() {
			c.log("Teleoperation started in %s mode", mode)
			if err := c.RunSession(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log("Session error: %v", err)
				c.modes.SetMode(ModeIdle)
			}
			c.log("Teleoperation stopped, choose robot behaviour")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunSession runs one teleop session until Ctrl-C, a key read error or ctx
// ends. The publisher is stopped and the key reader restored on every exit
// path, including panics.
func (c *Controller) RunSession(ctx context.Context) (err error) {
	pub := NewPublisher(PublisherConfig{
		Sink:       c.sink,
		Obstacles:  c.obstacles,
		Modes:      c.modes,
		RepeatRate: c.repeatRate,
		Commands:   c.cmdCh,
		logs:       c.logCh,
	})
	pub.Start(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
		}
		pub.Stop()
		c.setState(State{Speed: c.speed, Turn: c.turn})
		if rerr := c.keys.Restore(); rerr != nil && err == nil {
			err = fmt.Errorf("restore terminal: %w", rerr)
		}
	}()

	if err := pub.WaitForSubscribers(ctx); err != nil {
		return err
	}

	var intent Intent
	speed, turn := c.speed, c.turn
	pub.Update(intent, speed, turn)
	c.setState(State{Active: true, Speed: speed, Turn: turn})
	sendLatest(c.helpCh, robot.Help)
	c.log("%s", vels(speed, turn))

	status := 0
	for {
		key, ok, err := c.keys.ReadKey(ctx, c.keyTimeout)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}

		b := Binding{Kind: BindNone}
		if ok {
			b = Lookup(key)
		}
		switch b.Kind {
		case BindMove:
			intent = b.Intent
		case BindScale:
			speed *= b.Speed
			turn *= b.Turn
			c.log("%s", vels(speed, turn))
			if status == 14 {
				sendLatest(c.helpCh, robot.Help)
			}
			status = (status + 1) % 15
		case BindNone:
			// Robot already stopped, nothing to republish.
			if intent.IsZero() {
				continue
			}
			intent = Intent{}
		case BindInterrupt:
			c.modes.SetMode(ModeIdle)
			return nil
		default:
			intent = Intent{}
		}

		pub.Update(intent, speed, turn)
		c.setState(State{Active: true, Intent: intent, Speed: speed, Turn: turn})
	}
}

func vels(speed, turn float64) string {
	return fmt.Sprintf("currently:\tspeed %g\tturn %g", speed, turn)
}
