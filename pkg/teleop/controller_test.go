package teleop

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwillem/teleop-keyboard/pkg/obstacle"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

// trackingKeys wraps a KeyQueue and counts Restore calls.
type trackingKeys struct {
	*KeyQueue
	restores atomic.Int32
}

func (k *trackingKeys) Restore() error {
	k.restores.Add(1)
	return k.KeyQueue.Restore()
}

// panicKeys panics on the first read.
type panicKeys struct {
	restores atomic.Int32
}

func (k *panicKeys) ReadKey(ctx context.Context, timeout time.Duration) (rune, bool, error) {
	panic("terminal gone")
}

func (k *panicKeys) Restore() error {
	k.restores.Add(1)
	return nil
}

type sessionRig struct {
	ctrl  *Controller
	keys  *trackingKeys
	sink  *recordingSink
	modes *ModeSwitch
	done  chan error
}

func newSessionRig(t *testing.T, cfg Config) *sessionRig {
	t.Helper()
	r := &sessionRig{
		keys:  &trackingKeys{KeyQueue: NewKeyQueue(64)},
		sink:  newRecordingSink(),
		modes: NewModeSwitch(ModeManual),
		done:  make(chan error, 1),
	}
	cfg.Keys = r.keys
	cfg.Sink = r.sink
	cfg.Modes = r.modes
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	r.ctrl = ctrl
	return r
}

func (r *sessionRig) start(ctx context.Context) {
	go func() { r.done <- r.ctrl.RunSession(ctx) }()
}

func (r *sessionRig) press(keys ...rune) {
	for _, k := range keys {
		r.keys.Push(k)
	}
}

func (r *sessionRig) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (r *sessionRig) waitLast(t *testing.T, what string, cond func(robot.Twist) bool) {
	t.Helper()
	waitFor(t, what, func() bool {
		last, ok := r.sink.last()
		return ok && cond(last)
	})
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(Config{}); err == nil {
		t.Error("NewController without collaborators should fail")
	}

	ctrl, err := NewController(Config{Keys: NewKeyQueue(1), Modes: NewModeSwitch(ModeIdle), Sink: newRecordingSink()})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if ctrl.speed != robot.DefaultSpeed || ctrl.turn != robot.DefaultTurn {
		t.Errorf("defaults not applied: speed %v turn %v", ctrl.speed, ctrl.turn)
	}
}

func TestRunSession_MoveAndInterrupt(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 0.5, Turn: 1.0})
	r.start(context.Background())

	r.press('u')
	r.waitLast(t, "forward-left command", func(c robot.Twist) bool {
		return c.Linear.X == 0.5 && c.Angular.Z == 1.0
	})

	r.press(KeyInterrupt)
	if err := r.wait(t); err != nil {
		t.Fatalf("RunSession: %v", err)
	}

	if r.modes.Mode() != ModeIdle {
		t.Errorf("mode = %v after Ctrl-C, want idle", r.modes.Mode())
	}
	if last, _ := r.sink.last(); !last.IsZero() {
		t.Errorf("last command = %v, want zero", last)
	}
	if n := r.keys.restores.Load(); n != 1 {
		t.Errorf("Restore called %d times, want 1", n)
	}
}

func TestRunSession_SpeedScalingIsUnbounded(t *testing.T) {
	const presses = 30
	r := newSessionRig(t, Config{Speed: 0.5, Turn: 1.0})
	r.start(context.Background())

	for i := 0; i < presses; i++ {
		r.press('q')
	}
	r.press('i')

	want := 0.5 * math.Pow(1.1, presses)
	r.waitLast(t, "scaled forward command", func(c robot.Twist) bool {
		return c.Linear.X > 0 && math.Abs(c.Linear.X-want) < 1e-9
	})

	waitFor(t, "session state", func() bool { return r.ctrl.State().Intent == (Intent{X: 1}) })
	state := r.ctrl.State()
	if math.Abs(state.Speed-want) > 1e-9 {
		t.Errorf("speed = %v, want %v", state.Speed, want)
	}
	if math.Abs(state.Turn-math.Pow(1.1, presses)) > 1e-9 {
		t.Errorf("turn = %v, want %v", state.Turn, math.Pow(1.1, presses))
	}
	if state.Speed < 8 {
		t.Errorf("speed %v should have grown past 8 m/s with no clamp", state.Speed)
	}

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_HelpBanner(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 1.0, Turn: 1.0})
	r.start(context.Background())

	readHelp := func(what string) {
		t.Helper()
		select {
		case help := <-r.ctrl.Help():
			if help != robot.Help {
				t.Errorf("%s: help = %q", what, help)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no help banner", what)
		}
	}
	readHelp("session start")

	for i := 0; i < 14; i++ {
		r.press('w')
	}
	want := math.Pow(1.1, 14)
	waitFor(t, "14 speed changes", func() bool { return math.Abs(r.ctrl.State().Speed-want) < 1e-9 })
	select {
	case <-r.ctrl.Help():
		t.Error("help banner shown before the 15th speed change")
	default:
	}

	r.press('w')
	readHelp("15th speed change")

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_NulKeyIsNotATimeout(t *testing.T) {
	r := newSessionRig(t, Config{})
	r.start(context.Background())
	waitFor(t, "initial publish", func() bool { return r.sink.count() == 1 })

	// An unbound key republishes the stop, a timeout with zero intent does not.
	r.press(0)
	waitFor(t, "stop for NUL", func() bool { return r.sink.count() == 2 })

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_LinearOnlyScale(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 1.0, Turn: 2.0})
	r.start(context.Background())

	r.press('x', 'x', 'e', 'j')
	r.waitLast(t, "turn command", func(c robot.Twist) bool {
		return c.Angular.Z != 0
	})

	waitFor(t, "session state", func() bool { return r.ctrl.State().Intent == (Intent{Th: 1}) })
	state := r.ctrl.State()
	if !almostEqual(state.Speed, 0.81) || !almostEqual(state.Turn, 2.2) {
		t.Errorf("speed/turn = %v/%v, want 0.81/2.2", state.Speed, state.Turn)
	}

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_UnknownKeyStops(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 0.5, Turn: 1.0})
	r.start(context.Background())

	r.press('i')
	r.waitLast(t, "forward command", func(c robot.Twist) bool { return c.Linear.X == 0.5 })

	r.press('k')
	r.waitLast(t, "stop command", func(c robot.Twist) bool { return c.IsZero() })
	waitFor(t, "zero intent", func() bool { return r.ctrl.State().Intent.IsZero() })

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_TimeoutSkipsRedundantStop(t *testing.T) {
	r := newSessionRig(t, Config{KeyTimeout: 5 * time.Millisecond})
	r.start(context.Background())

	// The initial zero update is the only publish while idle.
	waitFor(t, "initial publish", func() bool { return r.sink.count() == 1 })
	time.Sleep(60 * time.Millisecond)
	if n := r.sink.count(); n != 1 {
		t.Errorf("idle timeouts republished: %d commands", n)
	}

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_TimeoutStopsMotion(t *testing.T) {
	r := newSessionRig(t, Config{KeyTimeout: 50 * time.Millisecond})
	r.start(context.Background())

	r.press('l')
	r.waitLast(t, "turn command", func(c robot.Twist) bool { return c.Angular.Z == -1 })
	r.waitLast(t, "timeout stop", func(c robot.Twist) bool { return c.IsZero() })

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_AvoidMode(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 0.5, Turn: 1.0, Obstacles: fixedFlags(obstacle.Flags{Front: true, Right: true})})
	r.modes.SetMode(ModeManualAvoid)
	r.start(context.Background())
	waitFor(t, "initial publish", func() bool { return r.sink.count() == 1 })

	r.press('o') // forward + right turn, both blocked
	waitFor(t, "gated publish", func() bool { return r.sink.count() == 2 })
	if last, _ := r.sink.last(); !last.IsZero() {
		t.Errorf("gated command = %v, want zero", last)
	}

	r.press('j') // left turn is free
	r.waitLast(t, "left turn", func(c robot.Twist) bool { return c.Angular.Z == 1 })

	r.press(KeyInterrupt)
	_ = r.wait(t)
}

func TestRunSession_NoSubscriber(t *testing.T) {
	r := newSessionRig(t, Config{})
	r.sink.conns = 0

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.start(ctx)

	err := r.wait(t)
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("err = %v, want ErrShutdown", err)
	}

	cmds := r.sink.all()
	if len(cmds) != 1 || !cmds[0].IsZero() {
		t.Errorf("commands = %v, want a single stop", cmds)
	}
	if r.keys.restores.Load() != 1 {
		t.Error("terminal not restored after failed start")
	}
}

func TestRunSession_ContextCancel(t *testing.T) {
	r := newSessionRig(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	r.start(ctx)

	r.press('i')
	r.waitLast(t, "forward command", func(c robot.Twist) bool { return c.Linear.X > 0 })
	cancel()

	if err := r.wait(t); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if last, _ := r.sink.last(); !last.IsZero() {
		t.Errorf("last command = %v, want zero", last)
	}
}

func TestRunSession_PanicStillStops(t *testing.T) {
	keys := &panicKeys{}
	sink := newRecordingSink()
	ctrl, err := NewController(Config{Keys: keys, Modes: NewModeSwitch(ModeManual), Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	err = ctrl.RunSession(context.Background())
	if err == nil || !strings.Contains(err.Error(), "terminal gone") {
		t.Errorf("err = %v, want recovered panic", err)
	}
	if last, ok := sink.last(); !ok || !last.IsZero() {
		t.Errorf("last command = %v, want zero", last)
	}
	if keys.restores.Load() != 1 {
		t.Error("terminal not restored after panic")
	}
}

func TestStart_RunsSessionsOnModeChange(t *testing.T) {
	r := newSessionRig(t, Config{Speed: 0.5, Turn: 1.0})
	r.modes.SetMode(ModeIdle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ctrl.Start(ctx) }()

	time.Sleep(80 * time.Millisecond)
	if n := r.sink.count(); n != 0 {
		t.Errorf("idle supervisor published %d commands", n)
	}

	r.modes.SetMode(ModeManual)
	waitFor(t, "session start", func() bool { return r.ctrl.State().Active })
	r.press('i')
	r.waitLast(t, "forward command", func(c robot.Twist) bool { return c.Linear.X == 0.5 })
	r.press(KeyInterrupt)
	waitFor(t, "session end", func() bool { return !r.ctrl.State().Active })

	if r.modes.Mode() != ModeIdle {
		t.Errorf("mode = %v, want idle", r.modes.Mode())
	}

	// A second session starts from the configured speed.
	r.modes.SetMode(ModeManualAvoid)
	waitFor(t, "second session", func() bool { return r.ctrl.State().Active })
	if s := r.ctrl.State(); s.Speed != 0.5 {
		t.Errorf("second session speed = %v, want 0.5", s.Speed)
	}

	if err := r.ctrl.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if last, _ := r.sink.last(); !last.IsZero() {
		t.Errorf("last command = %v, want zero", last)
	}
}
