// Package tuning loads the city/stream parameter file. One YAML document
// drives generation, streaming, and quality adaptation so a world is fully
// described by (seed, tuning).
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"citycraft.dev/internal/sim/citygen"
)

type Tuning struct {
	City    City    `yaml:"city"`
	Stream  Stream  `yaml:"stream"`
	Quality Quality `yaml:"quality"`
}

type City struct {
	Size           float64 `yaml:"size"`
	CenterFraction float64 `yaml:"center_fraction"`
	RoadWidth      float64 `yaml:"road_width"`
	GridSpacing    float64 `yaml:"grid_spacing"`
	OrganicRoads   int     `yaml:"organic_roads"`
	BlockSize      float64 `yaml:"block_size"`
	BuildingCount  int     `yaml:"building_count"`
	MinSpacing     float64 `yaml:"min_spacing"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RoadBandMin    float64 `yaml:"road_band_min"`
	RoadBandMax    float64 `yaml:"road_band_max"`
}

type Stream struct {
	ChunkSize     float64 `yaml:"chunk_size"`
	ViewDistance  float64 `yaml:"view_distance"`
	MoveThreshold float64 `yaml:"move_threshold"`
	LoadBatch     int     `yaml:"load_batch"`
	DeferDelayMs  int     `yaml:"defer_delay_ms"`
	SliceBudgetMs int     `yaml:"slice_budget_ms"`
}

type Quality struct {
	Preset  string  `yaml:"preset"`
	LowFPS  float64 `yaml:"low_fps"`
	HighFPS float64 `yaml:"high_fps"`
	Mobile  bool    `yaml:"mobile"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		City: City{
			Size:           2000,
			CenterFraction: 0.4,
			RoadWidth:      12,
			GridSpacing:    100,
			OrganicRoads:   8,
			BlockSize:      120,
			BuildingCount:  300,
			MinSpacing:     4,
			MaxAttempts:    12,
			RoadBandMin:    6,
			RoadBandMax:    20,
		},
		Stream: Stream{
			ChunkSize:     100,
			ViewDistance:  400,
			MoveThreshold: 10,
			LoadBatch:     3,
			DeferDelayMs:  100,
			SliceBudgetMs: 8,
		},
		Quality: Quality{
			Preset:  "high",
			LowFPS:  30,
			HighFPS: 55,
		},
	}
}

// CityConfig assembles the citygen config for a seed.
func (t Tuning) CityConfig(seed int64) citygen.Config {
	return citygen.Config{
		Seed:           seed,
		CitySize:       t.City.Size,
		CenterFraction: t.City.CenterFraction,
		RoadWidth:      t.City.RoadWidth,
		GridSpacing:    t.City.GridSpacing,
		OrganicRoads:   t.City.OrganicRoads,
		BlockSize:      t.City.BlockSize,
		BuildingCount:  t.City.BuildingCount,
		MinSpacing:     t.City.MinSpacing,
		MaxAttempts:    t.City.MaxAttempts,
		RoadBandMin:    t.City.RoadBandMin,
		RoadBandMax:    t.City.RoadBandMax,
		ChunkSize:      t.Stream.ChunkSize,
	}
}
