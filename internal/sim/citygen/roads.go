package citygen

import (
	"math"

	"citycraft.dev/internal/sim/cityrand"
)

// organicSteps is the polyline resolution of one curved outskirts road.
const organicSteps = 8

// GenerateRoadNetwork builds the full road graph: an orthogonal grid over the
// central fraction of the city plus a fixed count of curved outskirts roads.
// Pure given rng state; the network is never mutated after this returns.
func GenerateRoadNetwork(cfg Config, rng *cityrand.RNG) *RoadNetwork {
	net := &RoadNetwork{}

	half := cfg.CitySize * cfg.CenterFraction / 2
	var lines []float64
	for v := -half; v <= half+1e-9; v += cfg.GridSpacing {
		lines = append(lines, v)
	}

	for _, x := range lines {
		net.Segments = append(net.Segments, RoadSegment{
			Start: Vec2{X: x, Z: -half},
			End:   Vec2{X: x, Z: half},
			Width: cfg.RoadWidth,
			Kind:  RoadGrid,
		})
	}
	for _, z := range lines {
		net.Segments = append(net.Segments, RoadSegment{
			Start: Vec2{X: -half, Z: z},
			End:   Vec2{X: half, Z: z},
			Width: cfg.RoadWidth,
			Kind:  RoadGrid,
		})
	}
	for _, x := range lines {
		for _, z := range lines {
			net.Intersections = append(net.Intersections, Vec2{X: x, Z: z})
		}
	}

	for i := 0; i < cfg.OrganicRoads; i++ {
		net.Segments = append(net.Segments, organicRoad(cfg, rng, half)...)
	}
	return net
}

// organicRoad draws one curved road from the edge of the central grid out to
// the city boundary as a quadratic Bezier polyline with width jitter.
func organicRoad(cfg Config, rng *cityrand.RNG, gridHalf float64) []RoadSegment {
	angle := rng.Range(0, 2*math.Pi)
	dir := Vec2{X: math.Cos(angle), Z: math.Sin(angle)}

	start := Vec2{X: dir.X * gridHalf, Z: dir.Z * gridHalf}
	boundary := cfg.CitySize / 2
	endAngle := angle + rng.Range(-0.6, 0.6)
	end := Vec2{X: math.Cos(endAngle) * boundary, Z: math.Sin(endAngle) * boundary}

	// Control point: midpoint pushed sideways for the curve.
	mid := Vec2{X: (start.X + end.X) / 2, Z: (start.Z + end.Z) / 2}
	bend := rng.Range(-0.25, 0.25) * start.Dist(end)
	perp := Vec2{X: -(end.Z - start.Z), Z: end.X - start.X}
	plen := math.Hypot(perp.X, perp.Z)
	if plen > 0 {
		perp.X, perp.Z = perp.X/plen*bend, perp.Z/plen*bend
	}
	ctrl := Vec2{X: mid.X + perp.X, Z: mid.Z + perp.Z}

	width := cfg.RoadWidth * rng.Range(0.7, 1.1)

	segs := make([]RoadSegment, 0, organicSteps)
	prev := start
	for s := 1; s <= organicSteps; s++ {
		t := float64(s) / organicSteps
		p := bezier2(start, ctrl, end, t)
		segs = append(segs, RoadSegment{Start: prev, End: p, Width: width, Kind: RoadOrganic})
		prev = p
	}
	return segs
}

func bezier2(p0, p1, p2 Vec2, t float64) Vec2 {
	u := 1 - t
	return Vec2{
		X: u*u*p0.X + 2*u*t*p1.X + t*t*p2.X,
		Z: u*u*p0.Z + 2*u*t*p1.Z + t*t*p2.Z,
	}
}

// NearestSegment returns the closest segment to p, the closest point on it,
// and the distance. The network is read-only, so callers may query freely.
func NearestSegment(net *RoadNetwork, p Vec2) (RoadSegment, Vec2, float64) {
	best := math.MaxFloat64
	var bestSeg RoadSegment
	var bestPt Vec2
	for _, s := range net.Segments {
		pt := closestPointOnSegment(s, p)
		if d := p.Dist(pt); d < best {
			best = d
			bestSeg = s
			bestPt = pt
		}
	}
	return bestSeg, bestPt, best
}

func closestPointOnSegment(s RoadSegment, p Vec2) Vec2 {
	dx := s.End.X - s.Start.X
	dz := s.End.Z - s.Start.Z
	l2 := dx*dx + dz*dz
	if l2 == 0 {
		return s.Start
	}
	t := ((p.X-s.Start.X)*dx + (p.Z-s.Start.Z)*dz) / l2
	t = math.Max(0, math.Min(1, t))
	return Vec2{X: s.Start.X + t*dx, Z: s.Start.Z + t*dz}
}
