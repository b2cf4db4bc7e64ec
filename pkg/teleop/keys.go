package teleop

import (
	"context"
	"time"
)

// KeyQueue is a KeyReader fed by Push. It lets a terminal UI that owns the
// raw-mode terminal forward key presses to the controller.
type KeyQueue struct {
	keys chan rune
}

// NewKeyQueue returns a queue holding up to size unread keys.
func NewKeyQueue(size int) *KeyQueue {
	if size <= 0 {
		size = 16
	}
	return &KeyQueue{keys: make(chan rune, size)}
}

// Push enqueues a key. It reports false if the queue is full and the key
// was dropped.
func (q *KeyQueue) Push(key rune) bool {
	select {
	case q.keys <- key:
		return true
	default:
		return false
	}
}

func (q *KeyQueue) ReadKey(ctx context.Context, timeout time.Duration) (rune, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case key := <-q.keys:
		return key, true, nil
	case <-expired:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// Restore discards keys typed after the session ended so they do not leak
// into the next one.
func (q *KeyQueue) Restore() error {
	for {
		select {
		case <-q.keys:
		default:
			return nil
		}
	}
}
