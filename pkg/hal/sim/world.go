package sim

import "math"

// Point is a position on the floor in centimeters.
type Point struct {
	X, Y float64
}

func (p Point) add(q Point) Point     { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) sub(q Point) Point     { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) scale(k float64) Point { return Point{p.X * k, p.Y * k} }
func (p Point) dot(q Point) float64   { return p.X*q.X + p.Y*q.Y }
func (p Point) cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }

func unit(theta float64) Point { return Point{math.Cos(theta), math.Sin(theta)} }

func dist(p, q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func (p Point) rotate(theta float64) Point {
	c, s := math.Cos(theta), math.Sin(theta)
	return Point{p.X*c - p.Y*s, p.X*s + p.Y*c}
}

// Segment is a straight piece of tape or wall.
type Segment struct {
	A, B Point
}

func (s Segment) distanceTo(p Point) float64 {
	ab := s.B.sub(s.A)
	l2 := ab.dot(ab)
	if l2 == 0 {
		return dist(p, s.A)
	}
	t := math.Max(0, math.Min(1, p.sub(s.A).dot(ab)/l2))
	return dist(p, s.A.add(ab.scale(t)))
}

// Rect is an axis-aligned filled area.
type Rect struct {
	Min, Max Point
}

func (r Rect) contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// World is the floor and walls the simulated robot moves in.
type World struct {
	// Lines are dark tape strips of LineWidth centimeters.
	Lines     []Segment
	LineWidth float64
	// Blocks are solid dark areas such as a finish square.
	Blocks []Rect
	// Walls reflect ultrasonic pings.
	Walls []Segment
}

// Dark reports whether the floor at p is dark.
func (w *World) Dark(p Point) bool {
	for _, b := range w.Blocks {
		if b.contains(p) {
			return true
		}
	}
	half := w.LineWidth / 2
	for _, l := range w.Lines {
		if l.distanceTo(p) <= half {
			return true
		}
	}
	return false
}

// Ray returns the distance from p along direction theta to the nearest wall,
// or +Inf.
func (w *World) Ray(p Point, theta float64) float64 {
	best := math.Inf(1)
	d := unit(theta)
	for _, wall := range w.Walls {
		e := wall.B.sub(wall.A)
		denom := d.cross(e)
		if denom == 0 {
			continue
		}
		ap := wall.A.sub(p)
		t := ap.cross(e) / denom
		u := ap.cross(d) / denom
		if t >= 0 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}
	return best
}

// Box returns the four walls of an axis-aligned rectangle.
func Box(min, max Point) []Segment {
	return []Segment{
		{Point{min.X, min.Y}, Point{max.X, min.Y}},
		{Point{max.X, min.Y}, Point{max.X, max.Y}},
		{Point{max.X, max.Y}, Point{min.X, max.Y}},
		{Point{min.X, max.Y}, Point{min.X, min.Y}},
	}
}
