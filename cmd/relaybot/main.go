package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"relaybot.json" description:"Configuration file"`
	Verbose bool   `short:"v" long:"verbose" description:"Log debug messages"`

	Setup     SetupCommand     `command:"setup" description:"Pick the serial ports and calibrate the line sensors"`
	Run       RunCommand       `command:"run" description:"Run the relay race, the maze or plain line following"`
	Dashboard DashboardCommand `command:"dashboard" alias:"dash" description:"Watch robot telemetry and send commands"`
	Relay     RelayCommand     `command:"relay" description:"Bridge a USB console and a radio module"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "RelayBot - line following relay race robot CLI"

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
