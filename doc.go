// Package teleopkeyboard drives a mobile base from the keyboard, with an
// optional obstacle gate that blocks motion toward nearby objects.
//
// The base controller is reached over a serial line speaking
// newline-delimited JSON: velocity commands go out, range scans come back.
//
// # Installation
//
//	go install github.com/gwillem/teleop-keyboard/cmd/teleop-keyboard@latest
//
// # Usage
//
// First, run setup to pick the serial port and speeds:
//
//	teleop-keyboard setup
//
// Then start teleoperation, or try it against the simulated base:
//
//	teleop-keyboard teleoperate
//	teleop-keyboard teleoperate --sim
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/teleop-keyboard: CLI with setup, teleoperate and ports commands
//   - pkg/robot: Twist messages and configuration
//   - pkg/obstacle: Range scan sectors and obstruction flags
//   - pkg/link: Serial link to the base and a simulated base
//   - pkg/teleop: Key bindings, command publisher and teleop controller
package teleopkeyboard
