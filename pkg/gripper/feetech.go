package gripper

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

const (
	maxPosition = 4095
	minPulseUs  = 500
	maxPulseUs  = 2500
)

// PositionFor maps a hobby-servo pulse width onto a bus servo position.
func PositionFor(us int) int {
	pos := (us - minPulseUs) * maxPosition / (maxPulseUs - minPulseUs)
	return lo.Clamp(pos, 0, maxPosition)
}

// Feetech drives an STS bus servo as the gripper.
type Feetech struct {
	bus     *feetech.Bus
	group   *feetech.ServoGroup
	id      int
	timeout time.Duration
}

// OpenFeetech connects to the servo with the given ID and enables torque.
func OpenFeetech(port string, id int) (*Feetech, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open servo bus: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found, err := bus.Scan(ctx, id, id)
	if err != nil || len(found) == 0 {
		bus.Close()
		return nil, fmt.Errorf("no servo with id %d on %s: %v", id, port, err)
	}
	group := feetech.NewServoGroupByIDs(bus, id)
	if err := group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable servo %d: %w", id, err)
	}
	return &Feetech{bus: bus, group: group, id: id, timeout: 100 * time.Millisecond}, nil
}

// Command implements Actuator.
func (f *Feetech) Command(us int) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return f.group.SetPositions(ctx, feetech.PositionMap{f.id: PositionFor(us)})
}

// Close releases torque and the bus.
func (f *Feetech) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return multierr.Combine(f.group.DisableAll(ctx), f.bus.Close())
}
