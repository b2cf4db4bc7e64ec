// Package robot provides the command message and configuration for a
// keyboard-driven mobile base.
package robot

import "fmt"

// Vector3 is a three component vector in the base frame.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist is a velocity command: linear velocity in m/s and angular velocity
// in rad/s. Only Angular.Z is ever populated by the teleop controller.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// IsZero returns true if every component of the twist is zero.
func (t Twist) IsZero() bool {
	return t == Twist{}
}

func (t Twist) String() string {
	return fmt.Sprintf("linear(%.2f, %.2f, %.2f) angular(%.2f, %.2f, %.2f)",
		t.Linear.X, t.Linear.Y, t.Linear.Z,
		t.Angular.X, t.Angular.Y, t.Angular.Z)
}

// Help is the key map shown to the operator.
const Help = `Moving around:
   u    i    o
   j    k    l
   m    ,    .

For Holonomic mode (strafing), hold down the shift key:
   U    I    O
   J    K    L
   M    <    >

t : up (+z)
b : down (-z)
anything else : stop
q/z : increase/decrease max speeds by 10%
w/x : increase/decrease only linear speed by 10%
e/c : increase/decrease only angular speed by 10%
CTRL-C to change robot behaviour`
