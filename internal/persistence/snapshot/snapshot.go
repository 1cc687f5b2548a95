// Package snapshot writes and reads the generated-city artifact: a zstd
// stream holding one JSON header line followed by the gob-encoded body.
// The header is readable with zstdcat|head for quick inspection.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/grid"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Seed    int64  `json:"seed"`
}

// CityV1 captures everything needed to serve a generated city without
// regenerating it: the road network, zoned blocks, placements, and the
// per-chunk grouping.
type CityV1 struct {
	Header Header `json:"header"`

	CitySize  float64 `json:"city_size"`
	ChunkSize float64 `json:"chunk_size"`

	Segments      []citygen.RoadSegment `json:"segments"`
	Intersections []citygen.Vec2        `json:"intersections"`
	Blocks        []BlockV1             `json:"blocks"`
	Buildings     []citygen.Building    `json:"buildings"`
}

type BlockV1 struct {
	Center      citygen.Vec2     `json:"center"`
	Size        float64          `json:"size"`
	Zone        citygen.ZoneType `json:"zone"`
	BuildingIDs []string         `json:"building_ids,omitempty"`
}

// FromCity flattens a generated city into the snapshot form.
func FromCity(worldID string, city *citygen.City, citySize, chunkSize float64) CityV1 {
	snap := CityV1{
		Header:        Header{Version: 1, WorldID: worldID, Seed: city.Seed},
		CitySize:      citySize,
		ChunkSize:     chunkSize,
		Segments:      city.Net.Segments,
		Intersections: city.Net.Intersections,
	}
	for _, b := range city.Blocks {
		bl := BlockV1{Center: b.Center, Size: b.Size, Zone: b.Zone}
		for _, bld := range b.Buildings {
			bl.BuildingIDs = append(bl.BuildingIDs, bld.ID)
		}
		snap.Blocks = append(snap.Blocks, bl)
	}
	for _, b := range city.Buildings {
		snap.Buildings = append(snap.Buildings, *b)
	}
	return snap
}

// ToCity rebuilds the runtime city, including chunk grouping and the
// block->building ownership links.
func (s CityV1) ToCity() (*citygen.City, error) {
	byID := make(map[string]*citygen.Building, len(s.Buildings))
	city := &citygen.City{
		Seed: s.Header.Seed,
		Net: &citygen.RoadNetwork{
			Segments:      s.Segments,
			Intersections: s.Intersections,
		},
	}
	for i := range s.Buildings {
		b := s.Buildings[i]
		city.Buildings = append(city.Buildings, &b)
		byID[b.ID] = city.Buildings[len(city.Buildings)-1]
	}
	for _, bl := range s.Blocks {
		blk := &citygen.CityBlock{Center: bl.Center, Size: bl.Size, Zone: bl.Zone}
		for _, id := range bl.BuildingIDs {
			b, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("block references unknown building %s", id)
			}
			blk.Buildings = append(blk.Buildings, b)
		}
		city.Blocks = append(city.Blocks, blk)
	}
	if s.ChunkSize <= 0 {
		return nil, fmt.Errorf("snapshot chunk size %v", s.ChunkSize)
	}
	city.ByChunk = citygen.GroupByChunk(city.Net, city.Buildings, s.ChunkSize)
	return city, nil
}

func Write(path string, snap CityV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (CityV1, error) {
	var snap CityV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; gob carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ChunkKeys lists the cells a snapshot's content touches, for summaries.
func (s CityV1) ChunkKeys() []grid.ChunkKey {
	seen := map[grid.ChunkKey]bool{}
	var out []grid.ChunkKey
	for _, b := range s.Buildings {
		k := grid.KeyFor(b.Pos.X, b.Pos.Z, s.ChunkSize)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
