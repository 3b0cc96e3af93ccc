package main

import (
	"github.com/relaybot/relaybot/pkg/hal/sim"
)

const tapeWidth = 2

// demoWorld returns a course for mode. The robot starts at the origin facing
// +X.
func demoWorld(mode string) *sim.World {
	switch mode {
	case "maze":
		// A corridor that ends in a right turn.
		return &sim.World{Walls: []sim.Segment{
			{A: sim.Point{X: -20, Y: 20}, B: sim.Point{X: 120, Y: 20}},
			{A: sim.Point{X: -20, Y: -20}, B: sim.Point{X: 80, Y: -20}},
			{A: sim.Point{X: -20, Y: -20}, B: sim.Point{X: -20, Y: 20}},
			{A: sim.Point{X: 120, Y: 20}, B: sim.Point{X: 120, Y: -120}},
			{A: sim.Point{X: 80, Y: -20}, B: sim.Point{X: 80, Y: -120}},
		}}
	case "follow":
		return &sim.World{Lines: loop(
			sim.Point{X: -20, Y: 0}, sim.Point{X: 80, Y: 0}, sim.Point{X: 120, Y: 40},
			sim.Point{X: 120, Y: 100}, sim.Point{X: 80, Y: 140}, sim.Point{X: -20, Y: 140},
			sim.Point{X: -60, Y: 100}, sim.Point{X: -60, Y: 40},
		), LineWidth: tapeWidth}
	}
	// Race: the track forks left to the finish square and runs on into a
	// dead end with a wall.
	return &sim.World{
		Lines: []sim.Segment{
			{A: sim.Point{X: -10, Y: 0}, B: sim.Point{X: 160, Y: 0}},
			{A: sim.Point{X: 60, Y: 0}, B: sim.Point{X: 60, Y: 80}},
		},
		LineWidth: tapeWidth,
		Blocks:    []sim.Rect{{Min: sim.Point{X: 40, Y: 80}, Max: sim.Point{X: 80, Y: 120}}},
		Walls:     []sim.Segment{{A: sim.Point{X: 180, Y: -30}, B: sim.Point{X: 180, Y: 30}}},
	}
}

// loop joins points into a closed polyline.
func loop(pts ...sim.Point) []sim.Segment {
	segs := make([]sim.Segment, len(pts))
	for i, p := range pts {
		segs[i] = sim.Segment{A: p, B: pts[(i+1)%len(pts)]}
	}
	return segs
}
