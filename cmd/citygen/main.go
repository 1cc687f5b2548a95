// Command citygen generates a city offline and writes it as a snapshot,
// so servers can serve a fixed artifact instead of regenerating at boot.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"citycraft.dev/internal/persistence/snapshot"
	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/tuning"
)

func main() {
	var (
		seed       = flag.Int64("seed", 1337, "world seed")
		worldID    = flag.String("world", "world_1", "world id written into the snapshot header")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		outPath    = flag.String("out", "./data/city.snap.zst", "output snapshot path")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[citygen] ", log.LstdFlags)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	start := time.Now()
	city := citygen.Generate(tune.CityConfig(*seed))
	logger.Printf("generated in %s", time.Since(start).Round(time.Millisecond))

	snap := snapshot.FromCity(*worldID, city, tune.City.Size, tune.Stream.ChunkSize)
	if err := snapshot.Write(*outPath, snap); err != nil {
		logger.Fatalf("write snapshot: %v", err)
	}

	logger.Printf("wrote %s", *outPath)
	fmt.Printf("seed:       %d\n", *seed)
	fmt.Printf("roads:      %d segments, %d intersections\n", len(city.Net.Segments), len(city.Net.Intersections))
	fmt.Printf("blocks:     %d\n", len(city.Blocks))
	fmt.Printf("buildings:  %d\n", len(city.Buildings))
	fmt.Printf("chunks:     %d with content\n", len(city.ByChunk))

	byType := map[citygen.BuildingType]int{}
	for _, b := range city.Buildings {
		byType[b.Type]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-12s %d\n", t, byType[citygen.BuildingType(t)])
	}
}
