package model

import (
	"fmt"
	"math"
)

// Position is a point on the integer sensor grid. It is comparable and is
// used as the stable identifier of a node throughout the simulator.
type Position struct {
	X, Y int
}

// Pos is shorthand for Position{X: x, Y: y}.
func Pos(x, y int) Position { return Position{X: x, Y: y} }

// DistanceTo returns the straight-line distance between two positions.
func (p Position) DistanceTo(other Position) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// WithinRange reports whether other lies inside the circle of the given
// radius centred on p. The test is done on squared integers so that points
// exactly on the boundary are included without float rounding.
func (p Position) WithinRange(other Position, radius int) bool {
	if radius < 0 {
		return false
	}
	dx := p.X - other.X
	dy := p.Y - other.Y
	return dx*dx+dy*dy <= radius*radius
}

// Less orders positions by X, then Y.
func (p Position) Less(other Position) bool {
	if p.X != other.X {
		return p.X < other.X
	}
	return p.Y < other.Y
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}
