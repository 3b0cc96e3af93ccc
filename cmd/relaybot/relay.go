package main

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/telemetry"
)

type RelayCommand struct {
	Console string `long:"console" required:"true" description:"Serial port of the USB console"`
	Radio   string `long:"radio" required:"true" description:"Serial port of the radio module"`
	Baud    int    `long:"baud" default:"9600" description:"Baud rate of both ports"`
}

func (c *RelayCommand) Execute(args []string) error {
	log, err := newLogger("")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	console, err := telemetry.Open(c.Console, c.Baud)
	if err != nil {
		return err
	}
	radio, err := telemetry.Open(c.Radio, c.Baud)
	if err != nil {
		console.Close()
		return err
	}
	a := telemetry.NewLink(console, 0, nil, log)
	b := telemetry.NewLink(radio, 0, nil, log)
	log.Infow("relaying", "console", c.Console, "radio", c.Radio, "baud", c.Baud)
	return ignoreCanceled(relay(ctx, a, b, log))
}

// relay copies lines both ways until ctx is done or either side fails. Both
// links are closed on return.
func relay(ctx context.Context, console, radio *telemetry.Link, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	pump := func(from, to *telemetry.Link, dir string) {
		errs <- from.Run(ctx, func(line string) {
			log.Debugw(dir, "line", line)
			if err := to.WriteLine(line); err != nil {
				log.Warnw("relay write failed", "direction", dir, "error", err)
			}
		})
	}
	go pump(console, radio, "to radio")
	go pump(radio, console, "to console")

	var err error
	pending := 2
	select {
	case err = <-errs:
		pending--
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	// Closing unblocks the pending reads.
	err = multierr.Append(err, multierr.Combine(console.Close(), radio.Close()))
	for ; pending > 0; pending-- {
		<-errs
	}
	return err
}
