package teleop

// KeyInterrupt is Ctrl-C.
const KeyInterrupt rune = '\x03'

// Intent is a discrete direction request, independent of speed.
// Th is yaw; positive turns left.
type Intent struct {
	X, Y, Z, Th int
}

// IsZero returns true when no motion is requested.
func (i Intent) IsZero() bool {
	return i == Intent{}
}

// BindingKind tells what a key does.
type BindingKind int

const (
	// BindStop zeroes the intent. Any unbound key stops the robot.
	BindStop BindingKind = iota
	// BindMove sets the intent vector.
	BindMove
	// BindScale multiplies speed and turn.
	BindScale
	// BindInterrupt ends the session and returns the mode to idle.
	BindInterrupt
	// BindNone is a read timeout. No key maps to it.
	BindNone
)

// Binding is the action bound to a key.
type Binding struct {
	Kind   BindingKind
	Intent Intent  // BindMove
	Speed  float64 // BindScale factor for speed
	Turn   float64 // BindScale factor for turn
}

func move(x, y, z, th int) Binding {
	return Binding{Kind: BindMove, Intent: Intent{X: x, Y: y, Z: z, Th: th}}
}

func scale(speed, turn float64) Binding {
	return Binding{Kind: BindScale, Speed: speed, Turn: turn}
}

var bindings = map[rune]Binding{
	'i': move(1, 0, 0, 0),
	'o': move(1, 0, 0, -1),
	'j': move(0, 0, 0, 1),
	'l': move(0, 0, 0, -1),
	'u': move(1, 0, 0, 1),
	',': move(-1, 0, 0, 0),
	'.': move(-1, 0, 0, 1),
	'm': move(-1, 0, 0, -1),

	// holonomic
	'O': move(1, -1, 0, 0),
	'I': move(1, 0, 0, 0),
	'J': move(0, 1, 0, 0),
	'L': move(0, -1, 0, 0),
	'U': move(1, 1, 0, 0),
	'<': move(-1, 0, 0, 0),
	'>': move(-1, -1, 0, 0),
	'M': move(-1, 1, 0, 0),

	't': move(0, 0, 1, 0),
	'b': move(0, 0, -1, 0),

	'q': scale(1.1, 1.1),
	'z': scale(0.9, 0.9),
	'w': scale(1.1, 1),
	'x': scale(0.9, 1),
	'e': scale(1, 1.1),
	'c': scale(1, 0.9),

	KeyInterrupt: {Kind: BindInterrupt},
}

// Lookup returns the binding for key. Unbound keys map to BindStop.
func Lookup(key rune) Binding {
	if b, ok := bindings[key]; ok {
		return b
	}
	return Binding{Kind: BindStop}
}

// MoveKeys returns every key bound to a movement.
func MoveKeys() []rune {
	var keys []rune
	for k, b := range bindings {
		if b.Kind == BindMove {
			keys = append(keys, k)
		}
	}
	return keys
}
