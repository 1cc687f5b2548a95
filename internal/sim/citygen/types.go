// Package citygen generates the procedural city: a seeded road network,
// zoned city blocks derived from road intersections, and greedy building
// placement within those blocks. All output is a pure function of Config.
package citygen

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"citycraft.dev/internal/sim/grid"
)

type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func (v Vec2) Dist(o Vec2) float64 {
	dx := v.X - o.X
	dz := v.Z - o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

type RoadKind string

const (
	RoadGrid    RoadKind = "grid"
	RoadOrganic RoadKind = "organic"
)

type RoadSegment struct {
	Start Vec2     `json:"start"`
	End   Vec2     `json:"end"`
	Width float64  `json:"width"`
	Kind  RoadKind `json:"kind"`
}

// RoadNetwork is generated once per world and read-only afterwards.
type RoadNetwork struct {
	Segments      []RoadSegment `json:"segments"`
	Intersections []Vec2        `json:"intersections"`
}

type ZoneType string

const (
	ZoneDowntown    ZoneType = "downtown"
	ZoneCommercial  ZoneType = "commercial"
	ZoneMixed       ZoneType = "mixed"
	ZoneResidential ZoneType = "residential"
)

// zonePriority orders block processing; downtown is placed first so the
// densest zone gets first pick of the shared footprint.
func zonePriority(z ZoneType) int {
	switch z {
	case ZoneDowntown:
		return 0
	case ZoneCommercial:
		return 1
	case ZoneMixed:
		return 2
	default:
		return 3
	}
}

type CityBlock struct {
	Center    Vec2        `json:"center"`
	Size      float64     `json:"size"`
	Zone      ZoneType    `json:"zone"`
	Buildings []*Building `json:"buildings,omitempty"`
}

func (b *CityBlock) contains(p Vec2) bool {
	h := b.Size / 2
	return p.X >= b.Center.X-h && p.X <= b.Center.X+h &&
		p.Z >= b.Center.Z-h && p.Z <= b.Center.Z+h
}

type BuildingType string

const (
	BuildingSkyscraper  BuildingType = "skyscraper"
	BuildingMidSize     BuildingType = "midsize"
	BuildingHotel       BuildingType = "hotel"
	BuildingRetail      BuildingType = "retail"
	BuildingResidential BuildingType = "residential"
)

// TypeConfig controls the dimensions and dressing of a building type.
type TypeConfig struct {
	Type          BuildingType `json:"type"`
	TextureFamily string       `json:"texture_family"`
	MinWidth      float64      `json:"min_width"`
	MaxWidth      float64      `json:"max_width"`
	MinHeight     float64      `json:"min_height"`
	MaxHeight     float64      `json:"max_height"`
	PrefersRoad   bool         `json:"prefers_road"`
	Features      []string     `json:"features,omitempty"`
}

// Building is immutable once placed; it belongs to exactly one block and,
// through grouping, exactly one chunk.
type Building struct {
	ID     string       `json:"id"`
	Type   BuildingType `json:"type"`
	Pos    Vec2         `json:"pos"`
	Yaw    float64      `json:"yaw"`
	Width  float64      `json:"width"`
	Depth  float64      `json:"depth"`
	Height float64      `json:"height"`
	Config TypeConfig   `json:"config"`
}

// radius is half the larger footprint edge, used for the spacing check.
func (b *Building) radius() float64 {
	return math.Max(b.Width, b.Depth) / 2
}

// buildingID derives a stable UUID so repeated runs of the same seed name
// the same buildings.
func buildingID(seed int64, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("citycraft/building/%d/%d", seed, n))).String()
}

// Config holds every knob city generation reads. Zero values are filled by
// Defaults-derived tuning before generation starts.
type Config struct {
	Seed           int64
	CitySize       float64 // edge length of the square city footprint
	CenterFraction float64 // fraction of CitySize covered by the road grid
	RoadWidth      float64
	GridSpacing    float64
	OrganicRoads   int
	BlockSize      float64
	BuildingCount  int
	MinSpacing     float64
	MaxAttempts    int // placement attempts per building slot
	RoadBandMin    float64
	RoadBandMax    float64
	ChunkSize      float64
}

// ChunkContent is the per-chunk grouping handed to the streaming layer.
type ChunkContent struct {
	Key       grid.ChunkKey `json:"key"`
	Buildings []*Building   `json:"buildings,omitempty"`
	Roads     []RoadSegment `json:"roads,omitempty"`
}

// City is the completed generation result.
type City struct {
	Seed      int64                           `json:"seed"`
	Net       *RoadNetwork                    `json:"net"`
	Blocks    []*CityBlock                    `json:"blocks"`
	Buildings []*Building                     `json:"buildings"`
	ByChunk   map[grid.ChunkKey]*ChunkContent `json:"-"`
}
