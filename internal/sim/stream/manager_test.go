package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/grid"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		ChunkSize:     10,
		ViewDistance:  15,
		MoveThreshold: 10,
		LoadBatch:     3,
		DeferDelay:    5 * time.Millisecond,
	}, nil, nil)
	t.Cleanup(m.Close)
	return m
}

func emptyGen(ctx context.Context, key grid.ChunkKey) (*Content, error) {
	return &Content{Assets: []string{"asset/" + key.String()}}, nil
}

func countingGen(n *atomic.Int64) Generator {
	return func(ctx context.Context, key grid.ChunkKey) (*Content, error) {
		n.Add(1)
		return &Content{}, nil
	}
}

func TestLoad_IdempotentWhenLoaded(t *testing.T) {
	m := testManager(t)
	var calls atomic.Int64
	gen := countingGen(&calls)

	if _, err := m.Load(context.Background(), 0, 0, gen); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(context.Background(), 0, 0, gen); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("generator ran %d times, want 1", calls.Load())
	}
}

func TestLoad_ConcurrentCallersShareOneGeneration(t *testing.T) {
	m := testManager(t)
	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	gen := func(ctx context.Context, key grid.ChunkKey) (*Content, error) {
		calls.Add(1)
		close(started)
		<-release
		return &Content{}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Load(context.Background(), 2, 3, gen)
	}()
	<-started

	// Second caller arrives while the first generation is in flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch, err := m.Load(context.Background(), 2, 3, gen)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		if ch == nil || !ch.Loaded {
			t.Error("second caller should observe the completed load")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("generator ran %d times, want 1", calls.Load())
	}
}

func TestLoad_FailureClearsLoadingAndAllowsRetry(t *testing.T) {
	m := testManager(t)
	fail := true
	gen := func(ctx context.Context, key grid.ChunkKey) (*Content, error) {
		if fail {
			return nil, errors.New("asset fetch rejected")
		}
		return &Content{}, nil
	}

	if _, err := m.Load(context.Background(), 1, 1, gen); err == nil {
		t.Fatal("expected error from failing generator")
	}
	ch := m.Chunk(1, 1)
	if ch == nil || ch.Loaded {
		t.Fatal("failed chunk must exist and stay unloaded")
	}
	if p := m.Progress(); p.Loading != 0 {
		t.Fatalf("loading flag not cleared: %+v", p)
	}

	fail = false
	if _, err := m.Load(context.Background(), 1, 1, gen); err != nil {
		t.Fatal(err)
	}
	if !m.Chunk(1, 1).Loaded {
		t.Fatal("retry should load the chunk")
	}
}

func TestUnload_EmptiesButKeepsEntry(t *testing.T) {
	m := testManager(t)
	if _, err := m.Load(context.Background(), 0, 0, emptyGen); err != nil {
		t.Fatal(err)
	}
	before := m.Chunk(0, 0)

	m.Unload(0, 0)
	after := m.Chunk(0, 0)
	if after == nil {
		t.Fatal("unload must not remove the map entry")
	}
	if after != before {
		t.Fatal("unload must keep the same chunk object for reuse")
	}
	if after.Loaded || after.Assets != nil || after.Buildings != nil || after.Roads != nil {
		t.Fatalf("unloaded chunk not emptied: %+v", after)
	}
}

func TestUpdate_MoveBelowThresholdIsNoop(t *testing.T) {
	m := testManager(t)
	var calls atomic.Int64
	gen := countingGen(&calls)

	if err := m.Update(context.Background(), citygen.Vec2{X: 0, Z: 0}, gen); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond) // let deferred passes drain
	loadedBefore := len(m.LoadedKeys())
	callsBefore := calls.Load()

	// Distance 5 < threshold 10: must be a complete no-op.
	if err := m.Update(context.Background(), citygen.Vec2{X: 5, Z: 0}, gen); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != callsBefore {
		t.Fatalf("below-threshold update invoked generator %d more times", calls.Load()-callsBefore)
	}
	if len(m.LoadedKeys()) != loadedBefore {
		t.Fatal("below-threshold update changed chunk state")
	}
}

func TestUpdate_RangeSymmetry(t *testing.T) {
	m := testManager(t)
	viewer := citygen.Vec2{X: 0, Z: 0}
	if err := m.Update(context.Background(), viewer, emptyGen); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	loaded := map[grid.ChunkKey]bool{}
	for _, k := range m.LoadedKeys() {
		loaded[k] = true
	}
	// Every cell whose center is within view distance must be loaded.
	for cx := -3; cx <= 3; cx++ {
		for cz := -3; cz <= 3; cz++ {
			k := grid.ChunkKey{CX: cx, CZ: cz}
			x, z := k.Center(10)
			within := viewer.Dist(citygen.Vec2{X: x, Z: z}) <= 15
			if within && !loaded[k] {
				t.Fatalf("in-range chunk %v not loaded", k)
			}
			if !within && loaded[k] {
				t.Fatalf("out-of-range chunk %v loaded", k)
			}
		}
	}

	// Move far away: all previously loaded chunks fall out of range.
	if err := m.Update(context.Background(), citygen.Vec2{X: 500, Z: 0}, emptyGen); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	for _, k := range m.LoadedKeys() {
		x, z := k.Center(10)
		if d := (citygen.Vec2{X: 500, Z: 0}).Dist(citygen.Vec2{X: x, Z: z}); d > 15 {
			t.Fatalf("stale chunk %v still loaded at dist %.1f", k, d)
		}
	}
	if m.Chunk(0, 0) == nil {
		t.Fatal("evicted chunk entry should remain in the map")
	}
	if m.Chunk(0, 0).Loaded {
		t.Fatal("chunk at old position should be unloaded")
	}
}

func TestUpdate_BatchAndDeferredOverflow(t *testing.T) {
	m := testManager(t)
	var calls atomic.Int64
	gen := countingGen(&calls)

	if err := m.Update(context.Background(), citygen.Vec2{X: 0, Z: 0}, gen); err != nil {
		t.Fatal(err)
	}
	// The synchronous part of the pass loads at most LoadBatch chunks.
	if got := calls.Load(); got > 3 {
		t.Fatalf("first pass loaded %d chunks synchronously, batch is 3", got)
	}
	// The deferred follow-up passes finish the rest.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p := m.Progress(); p.Total > 0 && p.Loaded == p.Total {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deferred passes never completed: %+v", m.Progress())
}

func TestChunkView_ConsistentUnderConcurrentReload(t *testing.T) {
	m := testManager(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if _, err := m.Load(context.Background(), 0, 0, emptyGen); err != nil {
				t.Errorf("load: %v", err)
				return
			}
			m.Unload(0, 0)
		}
	}()

	// Readers must only ever observe a complete payload or nothing; the
	// copy is taken under the manager lock, never off the live chunk.
	for i := 0; i < 500; i++ {
		if c, ok := m.ChunkView(0, 0); ok && len(c.Assets) != 1 {
			t.Fatalf("loaded view with torn payload: %+v", c)
		}
	}
	<-done

	if _, err := m.Load(context.Background(), 0, 0, emptyGen); err != nil {
		t.Fatal(err)
	}
	c, ok := m.ChunkView(0, 0)
	if !ok || len(c.Assets) != 1 {
		t.Fatalf("view of loaded chunk: ok=%v content=%+v", ok, c)
	}
	if _, ok := m.ChunkView(7, 7); ok {
		t.Fatal("view of never-referenced chunk should report not loaded")
	}
}

func TestSubscribe_ImmediateSnapshotAndUpdates(t *testing.T) {
	m := testManager(t)

	var mu sync.Mutex
	var got []Progress
	unsub := m.Subscribe(func(p Progress) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	mu.Lock()
	if len(got) != 1 || got[0].Total != 0 {
		t.Fatalf("expected one immediate empty snapshot, got %+v", got)
	}
	mu.Unlock()

	if _, err := m.Load(context.Background(), 0, 0, emptyGen); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	last := got[len(got)-1]
	n := len(got)
	mu.Unlock()
	if last.Loaded != 1 || last.Percent != 100 {
		t.Fatalf("expected loaded snapshot, got %+v", last)
	}

	unsub()
	if _, err := m.Load(context.Background(), 5, 5, emptyGen); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatal("unsubscribed callback was still notified")
	}
}

func TestCityGenerator_ServesGroupedContent(t *testing.T) {
	cfg := citygen.Config{
		Seed: 7, CitySize: 400, CenterFraction: 0.5, RoadWidth: 10,
		GridSpacing: 50, OrganicRoads: 2, BlockSize: 60, BuildingCount: 40,
		MinSpacing: 3, MaxAttempts: 10, RoadBandMin: 5, RoadBandMax: 15,
		ChunkSize: 50,
	}
	city := citygen.Generate(cfg)
	gen := CityGenerator(city)

	var key grid.ChunkKey
	found := false
	for k, cc := range city.ByChunk {
		if len(cc.Buildings) > 0 {
			key, found = k, true
			break
		}
	}
	if !found {
		t.Fatal("no chunk with buildings")
	}

	content, err := gen(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(content.Buildings) != len(city.ByChunk[key].Buildings) {
		t.Fatal("generator returned wrong building set")
	}
	if len(content.Assets) != len(content.Buildings) {
		t.Fatal("one asset id per building expected")
	}

	empty, err := gen(context.Background(), grid.ChunkKey{CX: 9999, CZ: 9999})
	if err != nil || empty == nil || len(empty.Buildings) != 0 {
		t.Fatalf("outskirts cell should load empty: %+v err=%v", empty, err)
	}
}
