// Package relaybot drives small differential-drive robots through a line
// following relay race, a wall-following maze and plain line following.
//
// # Installation
//
//	go install github.com/relaybot/relaybot/cmd/relaybot@latest
//
// # Usage
//
// Pick the serial ports and calibrate the line sensors:
//
//	relaybot setup
//
// Then run the race, or try it on the simulator first:
//
//	relaybot run
//	relaybot run --sim --mode maze
//
// Watch every robot on the radio from a second machine:
//
//	relaybot dashboard --listen :8080
//
// The same engine runs on a Raspberry Pi Pico:
//
//	tinygo flash -target pico ./cmd/relaybot-firmware
//
// # Packages
//
//   - cmd/relaybot: CLI with setup, run, dashboard and relay commands
//   - pkg/hal: hardware interfaces, with firmata, pico and sim backends
//   - pkg/robot: configuration, drive base, race state and calibration data
//   - pkg/sensor: line array, wheel encoders and ultrasonic rangers
//   - pkg/motion: encoder-counted moves and turns
//   - pkg/linefollow: PID line follower
//   - pkg/maze: wall-following maze navigator
//   - pkg/race: relay race state machine
//   - pkg/gripper, pkg/status: cone gripper and status LED
//   - pkg/telemetry: radio frames, commands and the websocket hub
package relaybot
