package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/obstacle"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

// PublisherConfig holds the collaborators of a Publisher.
type PublisherConfig struct {
	Sink      CommandSink
	Obstacles ObstacleSource
	Modes     ModeSource
	// RepeatRate is the republish rate in Hz. Zero publishes only when the
	// velocity is updated.
	RepeatRate float64

	// Commands, if set, receives every published command. Unread commands
	// are replaced by newer ones.
	Commands chan robot.Twist
	logs     logger
}

// Publisher sends velocity commands from a background goroutine.
type Publisher struct {
	sink      CommandSink
	obstacles ObstacleSource
	modes     ModeSource
	velocity  *Velocity
	timeout   time.Duration
	commands  chan robot.Twist
	logs      logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewPublisher creates a publisher. Call Start to run it and Stop to end it.
func NewPublisher(cfg PublisherConfig) *Publisher {
	var timeout time.Duration
	if cfg.RepeatRate > 0 {
		timeout = time.Duration(float64(time.Second) / cfg.RepeatRate)
	}
	return &Publisher{
		sink:      cfg.Sink,
		obstacles: cfg.Obstacles,
		modes:     cfg.Modes,
		velocity:  NewVelocity(),
		timeout:   timeout,
		commands:  cfg.Commands,
		logs:      cfg.logs,
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. ctx is passed to the sink; cancelling it
// does not end the loop, Stop does.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// Update hands a new intent and speed scales to the publish loop.
func (p *Publisher) Update(intent Intent, speed, turn float64) {
	p.velocity.Update(intent, speed, turn)
}

// Stop ends the publish loop and waits for it to exit. The last command the
// sink receives is always a zero twist.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() {
			// Never started: nothing to join, still send the stop.
			close(p.done)
			p.publish(context.Background(), robot.Twist{})
		})
		p.velocity.Terminate()
		<-p.done
	})
}

// WaitForSubscribers blocks until the sink reports a connection. It returns
// ErrShutdown if ctx ends first.
func (p *Publisher) WaitForSubscribers(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; p.sink.Connections() == 0; i = (i + 1) % 5 {
		if i == 4 {
			p.log("Waiting for subscriber to connect to %s", sinkName(p.sink))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrShutdown, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		state := p.velocity.Wait(p.timeout)
		if state.Done {
			break
		}
		mode := p.modes.Mode()
		var flags obstacle.Flags
		if p.obstacles != nil {
			flags = p.obstacles.Flags()
		}
		p.publish(ctx, Command(mode, state, flags))
	}

	// The base must never be left moving once the loop exits.
	p.publish(context.WithoutCancel(ctx), robot.Twist{})
}

func (p *Publisher) publish(ctx context.Context, cmd robot.Twist) {
	if err := p.sink.Publish(ctx, cmd); err != nil {
		p.log("Publish error: %v", err)
	}
	if p.commands != nil {
		sendLatest(p.commands, cmd)
	}
}

func (p *Publisher) log(format string, args ...any) {
	if p.logs != nil {
		p.logs.log(format, args...)
	}
}

// Command builds the twist for one publish cycle.
//
// In ModeManualAvoid forward motion is dropped when the front is obstructed
// and yaw is dropped when turning towards an obstructed side. In ModeManual
// intent passes through. Any other mode yields a zero twist.
func Command(mode Mode, v VelocitySnapshot, flags obstacle.Flags) robot.Twist {
	var cmd robot.Twist
	if !mode.Active() {
		return cmd
	}

	cmd.Linear.X = float64(v.Intent.X) * v.Speed
	cmd.Linear.Y = float64(v.Intent.Y) * v.Speed
	cmd.Linear.Z = float64(v.Intent.Z) * v.Speed
	cmd.Angular.Z = float64(v.Intent.Th) * v.Turn

	if mode == ModeManualAvoid {
		if flags.Front && v.Intent.X == 1 {
			cmd.Linear.X = 0
		}
		if (flags.Right && v.Intent.Th == -1) || (flags.Left && v.Intent.Th == 1) {
			cmd.Angular.Z = 0
		}
	}
	return cmd
}

func sinkName(s CommandSink) string {
	if n, ok := s.(fmt.Stringer); ok {
		return n.String()
	}
	return "base"
}
