//go:build rp2040

// Command relaybot-firmware runs the relay race on a Raspberry Pi Pico.
//
//	tinygo flash -target pico ./cmd/relaybot-firmware
package main

import (
	"context"
	"machine"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relaybot/relaybot/pkg/gripper"
	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/hal/pico"
	"github.com/relaybot/relaybot/pkg/motion"
	"github.com/relaybot/relaybot/pkg/race"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
	"github.com/relaybot/relaybot/pkg/status"
	"github.com/relaybot/relaybot/pkg/telemetry"
)

func main() {
	// Let the radio and the USB console come up.
	time.Sleep(2 * time.Second)
	if err := run(); err != nil {
		for {
			println("relaybot:", err.Error())
			time.Sleep(time.Second)
		}
	}
}

func run() error {
	cfg := pico.Config()
	clk := clock.New()

	board, err := pico.New(cfg)
	if err != nil {
		return err
	}
	ticks, err := pico.Encoders(cfg, clk)
	if err != nil {
		return err
	}
	servo, err := pico.NewServo(cfg.Pins.Gripper)
	if err != nil {
		return err
	}

	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: uint32(cfg.Telemetry.Baud), TX: machine.UART0_TX_PIN, RX: machine.UART0_RX_PIN})
	line := &hal.SharedLine{}
	radio := telemetry.NewRadio(uart, cfg.Telemetry.RobotID, line, nil)
	radio.SetIdle(cfg.Telemetry.CommandPoll.D())
	go radio.Run(context.Background())
	radio.Message("Wireless Online")

	base := robot.NewBase(board, cfg.Speeds)
	tc := motion.NewTickController(base, ticks, clk, cfg, nil)
	tc.SetPollInterval(time.Millisecond)

	ctrl := race.NewController(race.Hardware{
		Base:    base,
		Motion:  tc,
		Array:   sensor.NewLineArray(board, cfg.Line),
		Front:   pico.NewSonar(cfg.Pins.Front),
		Clock:   clk,
		Gripper: gripper.New(servo, clk, cfg.Gripper),
		LED:     status.NewIndicator(pico.NewPixel(cfg.Pins.LED), line, clk, 250*time.Millisecond),
		Radio:   radio,
	}, cfg, nil)

	go func() {
		for msg := range ctrl.Logs() {
			println(msg)
		}
	}()
	err = ctrl.Start(context.Background())
	base.Stop()
	return err
}
