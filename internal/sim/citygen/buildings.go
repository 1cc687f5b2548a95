package citygen

import (
	"math"
	"sort"

	"citycraft.dev/internal/sim/cityrand"
)

var typeCatalog = map[BuildingType]TypeConfig{
	BuildingSkyscraper: {
		Type: BuildingSkyscraper, TextureFamily: "glass_tower",
		MinWidth: 18, MaxWidth: 30, MinHeight: 80, MaxHeight: 220,
		PrefersRoad: true, Features: []string{"rooftop_antenna", "lobby"},
	},
	BuildingMidSize: {
		Type: BuildingMidSize, TextureFamily: "concrete_office",
		MinWidth: 14, MaxWidth: 24, MinHeight: 30, MaxHeight: 70,
		PrefersRoad: true, Features: []string{"hvac_units"},
	},
	BuildingHotel: {
		Type: BuildingHotel, TextureFamily: "stone_facade",
		MinWidth: 20, MaxWidth: 32, MinHeight: 35, MaxHeight: 90,
		PrefersRoad: true, Features: []string{"awning", "sign"},
	},
	BuildingRetail: {
		Type: BuildingRetail, TextureFamily: "brick_storefront",
		MinWidth: 10, MaxWidth: 20, MinHeight: 8, MaxHeight: 16,
		PrefersRoad: true, Features: []string{"storefront", "sign"},
	},
	BuildingResidential: {
		Type: BuildingResidential, TextureFamily: "plaster_house",
		MinWidth: 8, MaxWidth: 16, MinHeight: 6, MaxHeight: 22,
		PrefersRoad: false, Features: []string{"yard"},
	},
}

// zoneWeights is the per-zone building-type mix; entries are cumulative-picked
// in declaration order.
var zoneWeights = map[ZoneType][]struct {
	t BuildingType
	w float64
}{
	ZoneDowntown:    {{BuildingSkyscraper, 0.5}, {BuildingHotel, 0.2}, {BuildingMidSize, 0.3}},
	ZoneCommercial:  {{BuildingRetail, 0.4}, {BuildingMidSize, 0.4}, {BuildingHotel, 0.2}},
	ZoneMixed:       {{BuildingMidSize, 0.3}, {BuildingRetail, 0.3}, {BuildingResidential, 0.3}, {BuildingHotel, 0.1}},
	ZoneResidential: {{BuildingResidential, 0.7}, {BuildingRetail, 0.3}},
}

func pickType(zone ZoneType, rng *cityrand.RNG) TypeConfig {
	weights := zoneWeights[zone]
	roll := rng.Float64()
	acc := 0.0
	for _, w := range weights {
		acc += w.w
		if roll < acc {
			return typeCatalog[w.t]
		}
	}
	return typeCatalog[weights[len(weights)-1].t]
}

// placer accumulates placed buildings across blocks so the spacing check
// sees every earlier placement, not just the current block's.
type placer struct {
	cfg    Config
	net    *RoadNetwork
	rng    *cityrand.RNG
	placed []*Building
}

func newPlacer(net *RoadNetwork, cfg Config, rng *cityrand.RNG) *placer {
	return &placer{cfg: cfg, net: net, rng: rng}
}

// SortBlocks orders blocks for placement: zone priority first (downtown gets
// first pick), then center distance for a stable order.
func SortBlocks(blocks []*CityBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		pi, pj := zonePriority(blocks[i].Zone), zonePriority(blocks[j].Zone)
		if pi != pj {
			return pi < pj
		}
		return blocks[i].Center.Dist(Vec2{}) < blocks[j].Center.Dist(Vec2{})
	})
}

// fillBlock places this block's share of the requested building total.
// Slots that exhaust their attempt budget are skipped silently; a sparse
// block is fine, an overlapping one is not.
func (p *placer) fillBlock(b *CityBlock, totalBlocks int) {
	if totalBlocks == 0 {
		return
	}
	base := p.cfg.BuildingCount / totalBlocks
	if base < 1 {
		base = 1
	}
	target := base + p.rng.IntRange(-base/4, base/4)

	for i := 0; i < target; i++ {
		if bld := p.tryPlace(b); bld != nil {
			bld.ID = buildingID(p.cfg.Seed, len(p.placed))
			p.placed = append(p.placed, bld)
			b.Buildings = append(b.Buildings, bld)
		}
	}
}

func (p *placer) tryPlace(b *CityBlock) *Building {
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		tc := pickType(b.Zone, p.rng)

		w := p.rng.Range(tc.MinWidth, tc.MaxWidth)
		d := p.rng.Range(tc.MinWidth, tc.MaxWidth)
		h := p.rng.Range(tc.MinHeight, tc.MaxHeight)

		var pos Vec2
		var yaw float64
		if tc.PrefersRoad {
			pos, yaw = p.roadCandidate(b)
		} else {
			half := b.Size / 2
			pos = Vec2{
				X: b.Center.X + p.rng.Range(-half, half),
				Z: b.Center.Z + p.rng.Range(-half, half),
			}
			yaw = p.rng.Range(0, 2*math.Pi)
		}

		if !b.contains(pos) {
			continue
		}
		cand := &Building{Type: tc.Type, Pos: pos, Yaw: yaw, Width: w, Depth: d, Height: h, Config: tc}
		if p.collides(cand) {
			continue
		}
		return cand
	}
	return nil
}

// roadCandidate samples a point offset perpendicular from a random road
// segment within the configured band, yawed to face that road.
func (p *placer) roadCandidate(b *CityBlock) (Vec2, float64) {
	seg := p.net.Segments[p.rng.Intn(len(p.net.Segments))]

	t := p.rng.Float64()
	on := Vec2{
		X: seg.Start.X + t*(seg.End.X-seg.Start.X),
		Z: seg.Start.Z + t*(seg.End.Z-seg.Start.Z),
	}

	dx := seg.End.X - seg.Start.X
	dz := seg.End.Z - seg.Start.Z
	l := math.Hypot(dx, dz)
	if l == 0 {
		l = 1
	}
	// Unit perpendicular, random side.
	px, pz := -dz/l, dx/l
	if p.rng.Chance(0.5) {
		px, pz = -px, -pz
	}
	off := seg.Width/2 + p.rng.Range(p.cfg.RoadBandMin, p.cfg.RoadBandMax)
	pos := Vec2{X: on.X + px*off, Z: on.Z + pz*off}

	// Face back towards the road.
	yaw := math.Atan2(on.X-pos.X, on.Z-pos.Z)
	return pos, yaw
}

// collides runs the O(n) circle-overlap scan against every earlier placement.
// Building counts stay three-digit, so no spatial index.
func (p *placer) collides(c *Building) bool {
	for _, o := range p.placed {
		if c.Pos.Dist(o.Pos) < c.radius()+o.radius()+p.cfg.MinSpacing {
			return true
		}
	}
	return false
}

// PlaceBuildings runs placement over all blocks in zone-priority order.
// Returns the global placement list; each building is also appended to its
// owning block.
func PlaceBuildings(net *RoadNetwork, blocks []*CityBlock, cfg Config, rng *cityrand.RNG) []*Building {
	SortBlocks(blocks)
	p := newPlacer(net, cfg, rng)
	for _, b := range blocks {
		p.fillBlock(b, len(blocks))
	}
	return p.placed
}
