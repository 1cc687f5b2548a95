package citygen

import (
	"context"
	"math"
	"time"

	"citycraft.dev/internal/sim/cityrand"
	"citycraft.dev/internal/sim/grid"
)

// Stage names the steps of whole-city generation. Each stage is a pure step
// over the pipeline's accumulated state; placement advances one block per
// step so a scheduler can stop between blocks.
type Stage string

const (
	StageRoads      Stage = "roads"
	StageBlocks     Stage = "blocks"
	StagePlacements Stage = "placements"
	StageGrouping   Stage = "grouping"
	StageDone       Stage = "done"
)

// Pipeline generates a city in resumable steps. It replaces a long
// synchronous generation pass: callers run steps until a time budget is
// spent, yield, and come back.
type Pipeline struct {
	cfg Config
	rng *cityrand.RNG

	stage    Stage
	blockIdx int

	net     *RoadNetwork
	blocks  []*CityBlock
	placer  *placer
	grouped map[grid.ChunkKey]*ChunkContent
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		rng:   cityrand.New(cfg.Seed),
		stage: StageRoads,
	}
}

func (p *Pipeline) Stage() Stage { return p.stage }

// Step advances the pipeline by one unit of work and reports whether
// generation is complete. Stages are pure transforms of prior stage output;
// no stage reads anything outside the pipeline.
func (p *Pipeline) Step() bool {
	switch p.stage {
	case StageRoads:
		p.net = GenerateRoadNetwork(p.cfg, p.rng)
		p.stage = StageBlocks
	case StageBlocks:
		p.blocks = GenerateCityBlocks(p.net, p.cfg)
		SortBlocks(p.blocks)
		p.placer = newPlacer(p.net, p.cfg, p.rng)
		p.blockIdx = 0
		p.stage = StagePlacements
	case StagePlacements:
		if p.blockIdx < len(p.blocks) {
			p.placer.fillBlock(p.blocks[p.blockIdx], len(p.blocks))
			p.blockIdx++
		}
		if p.blockIdx >= len(p.blocks) {
			p.stage = StageGrouping
		}
	case StageGrouping:
		p.grouped = GroupByChunk(p.net, p.placer.placed, p.cfg.ChunkSize)
		p.stage = StageDone
	}
	return p.stage == StageDone
}

// Result assembles the finished city. Valid only once Step has returned true.
func (p *Pipeline) Result() *City {
	return &City{
		Seed:      p.cfg.Seed,
		Net:       p.net,
		Blocks:    p.blocks,
		Buildings: p.placer.placed,
		ByChunk:   p.grouped,
	}
}

// Run drives the pipeline to completion, yielding between work slices so a
// frame loop is never starved. After each slice of sliceBudget the scheduler
// hands control back via yield (nil yield just continues).
func (p *Pipeline) Run(ctx context.Context, sliceBudget time.Duration, yield func()) (*City, error) {
	sliceStart := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Step() {
			return p.Result(), nil
		}
		if sliceBudget > 0 && time.Since(sliceStart) >= sliceBudget {
			if yield != nil {
				yield()
			}
			sliceStart = time.Now()
		}
	}
}

// Generate is the single-shot path: same stages, no scheduling.
func Generate(cfg Config) *City {
	city, _ := NewPipeline(cfg).Run(context.Background(), 0, nil)
	return city
}

// GroupByChunk buckets placed buildings and road segments by the chunk cells
// they touch. Buildings belong to the cell containing their center; a road
// segment is added to every cell it crosses (sampled along its length).
func GroupByChunk(net *RoadNetwork, buildings []*Building, chunkSize float64) map[grid.ChunkKey]*ChunkContent {
	out := make(map[grid.ChunkKey]*ChunkContent)
	get := func(k grid.ChunkKey) *ChunkContent {
		c, ok := out[k]
		if !ok {
			c = &ChunkContent{Key: k}
			out[k] = c
		}
		return c
	}

	for _, b := range buildings {
		c := get(grid.KeyFor(b.Pos.X, b.Pos.Z, chunkSize))
		c.Buildings = append(c.Buildings, b)
	}

	for _, s := range net.Segments {
		steps := int(math.Ceil(s.Start.Dist(s.End)/chunkSize)) + 1
		seen := map[grid.ChunkKey]bool{}
		for i := 0; i <= steps; i++ {
			t := float64(i) / float64(steps)
			x := s.Start.X + t*(s.End.X-s.Start.X)
			z := s.Start.Z + t*(s.End.Z-s.Start.Z)
			k := grid.KeyFor(x, z, chunkSize)
			if seen[k] {
				continue
			}
			seen[k] = true
			get(k).Roads = append(get(k).Roads, s)
		}
	}
	return out
}
