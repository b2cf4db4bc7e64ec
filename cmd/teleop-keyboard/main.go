package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config      string             `short:"c" long:"config" default:"teleop.json" description:"Configuration file"`
	Setup       SetupCommand       `command:"setup" description:"Pick the base serial port and teleop speeds"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive the base from the keyboard"`
	Ports       PortsCommand       `command:"ports" description:"List serial ports"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "teleop-keyboard - keyboard teleoperation with obstacle avoidance"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
