// Package teleop provides keyboard teleoperation for a mobile base.
//
// A Controller reads key events, turns them into an intent vector and speed
// scales, and hands them to a Publisher. The Publisher runs in its own
// goroutine, combines the latest intent with the latest obstacle flags and
// the current mode, and sends velocity commands to the base at a bounded
// rate. When a session ends the Publisher always sends one final zero
// command.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/obstacle"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

var (
	// ErrShutdown is returned when the context ends before the base
	// connects.
	ErrShutdown = errors.New("got shutdown request before subscribers connected")

	// ErrAlreadyRunning is returned by Start on a running controller.
	ErrAlreadyRunning = errors.New("already running")
)

// CommandSink receives velocity commands. Connections reports how many
// consumers are attached; the controller waits for at least one.
type CommandSink interface {
	Publish(ctx context.Context, cmd robot.Twist) error
	Connections() int
}

// ObstacleSource reports the latest obstruction flags.
type ObstacleSource interface {
	Flags() obstacle.Flags
}

// KeyReader delivers single key presses from a terminal.
type KeyReader interface {
	// ReadKey blocks until a key arrives or timeout elapses. A zero
	// timeout blocks until a key or ctx ends. ok is false on timeout, so
	// every rune, NUL included, is a real key.
	ReadKey(ctx context.Context, timeout time.Duration) (key rune, ok bool, err error)

	// Restore returns the terminal to its state before the session.
	Restore() error
}

// logger formats timestamped lines into a drop-if-full channel.
type logger chan string

func (l logger) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case l <- msg:
	default:
		// Drop if channel full
	}
}

// sendLatest replaces any unread value in ch with v.
func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
