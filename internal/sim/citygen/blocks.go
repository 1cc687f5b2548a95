package citygen

// GenerateCityBlocks derives zoning blocks from road intersections. Nearby
// intersections (within 1.5x block size) collapse into one block center; if
// the network yields too few clusters the city footprint is partitioned into
// a uniform grid instead. Zone assignment is distance-from-origin banding —
// a deliberate simplification, unrelated to road topology.
func GenerateCityBlocks(net *RoadNetwork, cfg Config) []*CityBlock {
	centers := clusterIntersections(net.Intersections, cfg.BlockSize*1.5)
	if len(centers) < 4 {
		centers = uniformGridCenters(cfg)
	}

	blocks := make([]*CityBlock, 0, len(centers))
	for _, c := range centers {
		blocks = append(blocks, &CityBlock{
			Center: c,
			Size:   cfg.BlockSize,
			Zone:   zoneFor(c, cfg.CitySize),
		})
	}
	return blocks
}

// clusterIntersections greedily merges points into running-mean cluster
// centers. Order-dependent but deterministic: intersections arrive in
// generation order.
func clusterIntersections(points []Vec2, radius float64) []Vec2 {
	type cluster struct {
		sum Vec2
		n   int
	}
	var clusters []*cluster
	for _, p := range points {
		var hit *cluster
		for _, c := range clusters {
			mean := Vec2{X: c.sum.X / float64(c.n), Z: c.sum.Z / float64(c.n)}
			if mean.Dist(p) <= radius {
				hit = c
				break
			}
		}
		if hit == nil {
			clusters = append(clusters, &cluster{sum: p, n: 1})
			continue
		}
		hit.sum.X += p.X
		hit.sum.Z += p.Z
		hit.n++
	}
	out := make([]Vec2, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, Vec2{X: c.sum.X / float64(c.n), Z: c.sum.Z / float64(c.n)})
	}
	return out
}

func uniformGridCenters(cfg Config) []Vec2 {
	half := cfg.CitySize / 2
	var out []Vec2
	for x := -half + cfg.BlockSize/2; x < half; x += cfg.BlockSize {
		for z := -half + cfg.BlockSize/2; z < half; z += cfg.BlockSize {
			out = append(out, Vec2{X: x, Z: z})
		}
	}
	return out
}

// zoneFor bands by Euclidean distance from the world origin: the closer a
// block sits to the center, the denser its zone.
func zoneFor(c Vec2, citySize float64) ZoneType {
	d := c.Dist(Vec2{})
	switch {
	case d < citySize*0.12:
		return ZoneDowntown
	case d < citySize*0.25:
		return ZoneCommercial
	case d < citySize*0.38:
		return ZoneMixed
	default:
		return ZoneResidential
	}
}
