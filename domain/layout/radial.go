// Package layout computes deterministic radial placement for sibling
// concept nodes around their parent. All functions are pure: the same
// inputs always produce bit-identical output, so live generation and
// cache replay lay out identical graphs.
package layout

import (
	"math"

	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
)

// Handle identifies an edge anchor on a node's border
type Handle string

const (
	HandleTop    Handle = "top"
	HandleBottom Handle = "bottom"
	HandleLeft   Handle = "left"
	HandleRight  Handle = "right"
)

// HandlePair is the anchor combination for one parent-to-child edge
type HandlePair struct {
	Source Handle
	Target Handle
}

// handle pair per 45° compass sector, screen coordinates (y grows
// downward), sector 0 centered due east
var sectorHandles = [8]HandlePair{
	{Source: HandleRight, Target: HandleLeft},   // E
	{Source: HandleRight, Target: HandleTop},    // SE
	{Source: HandleBottom, Target: HandleTop},   // S
	{Source: HandleLeft, Target: HandleTop},     // SW
	{Source: HandleLeft, Target: HandleRight},   // W
	{Source: HandleLeft, Target: HandleBottom},  // NW
	{Source: HandleTop, Target: HandleBottom},   // N
	{Source: HandleRight, Target: HandleBottom}, // NE
}

// Engine binds the pure layout functions to the configured sizing
// constraints.
type Engine struct {
	cfg *config.DomainConfig
}

// NewEngine creates a layout engine from domain configuration
func NewEngine(cfg *config.DomainConfig) *Engine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Engine{cfg: cfg}
}

// SafeRadius returns the smallest radius at which n siblings of the
// given width, equally spaced on a circle, do not overlap. The result
// is clamped to [minRadius, maxRadius]; n ≤ 1 needs no spacing and gets
// minRadius.
func SafeRadius(n int, nodeWidth, margin, minRadius, maxRadius float64) float64 {
	if n <= 1 {
		return minRadius
	}

	arc := nodeWidth + margin
	radius := float64(n) * arc / (2 * math.Pi)

	return clamp(radius, minRadius, maxRadius)
}

// SafeRadius applies the configured node width and radius bounds
func (e *Engine) SafeRadius(n int) float64 {
	return SafeRadius(n, e.cfg.NodeWidth, e.cfg.NodeMargin, e.cfg.MinRadius, e.cfg.MaxRadius)
}

// RadiusFor shifts the safe radius by the importance offset. High
// importance pulls a node toward its parent, low pushes it out; the
// shifted radius never leaves [MinRadius, MaxRadius].
func (e *Engine) RadiusFor(n int, importance valueobjects.Importance) float64 {
	radius := e.SafeRadius(n)

	switch importance {
	case valueobjects.ImportanceHigh:
		radius += e.cfg.HighImportance
	case valueobjects.ImportanceLow:
		radius += e.cfg.LowImportance
	}

	return clamp(radius, e.cfg.MinRadius, e.cfg.MaxRadius)
}

// Angle returns the placement angle in radians for sibling index of n.
// Indexes wrap: Angle(i+n, n) == Angle(i, n).
func Angle(index, n int) float64 {
	if n < 1 {
		n = 1
	}
	index = ((index % n) + n) % n
	return 2 * math.Pi * float64(index) / float64(n)
}

// Position places sibling index of n on the circle of the given radius
// around center.
func Position(index, n int, center valueobjects.Position, radius float64) valueobjects.Position {
	angle := Angle(index, n)

	x := center.X() + radius*math.Cos(angle)
	y := center.Y() + radius*math.Sin(angle)

	pos, err := valueobjects.NewPosition(x, y)
	if err != nil {
		// Finite center and clamped radius cannot produce this.
		return center
	}
	return pos
}

// OptimalHandles buckets the placement angle into one of eight compass
// sectors and returns the anchor pair giving the shortest non-crossing
// edge route.
func OptimalHandles(angle float64) HandlePair {
	angle = math.Mod(angle, 2*math.Pi)
	if angle < 0 {
		angle += 2 * math.Pi
	}

	sectorWidth := math.Pi / 4
	sector := int(math.Floor(angle/sectorWidth+0.5)) % 8

	return sectorHandles[sector]
}

// HandlesAt is OptimalHandles for sibling index of n
func HandlesAt(index, n int) HandlePair {
	return OptimalHandles(Angle(index, n))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
