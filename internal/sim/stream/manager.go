// Package stream keeps the set of world chunks near a moving viewer loaded,
// and evicts the rest. It is a rendering cache, not a consistency-critical
// store: a fast viewer may skip intermediate chunk states entirely.
package stream

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/grid"
)

// Content is what a generator fills a chunk with.
type Content struct {
	Buildings []*citygen.Building
	Roads     []citygen.RoadSegment
	Assets    []string
}

// Generator materializes content for one chunk. It may block (asset
// registration, generation work); errors are logged and the chunk stays
// unloaded until the viewer re-enters its range.
type Generator func(ctx context.Context, key grid.ChunkKey) (*Content, error)

// Chunk is one streamed cell. Chunks are created on first reference and
// never removed from the map — unloading empties them so re-entry reuses
// the same object.
type Chunk struct {
	Key       grid.ChunkKey
	Buildings []*citygen.Building
	Roads     []citygen.RoadSegment
	Assets    []string
	Loaded    bool
}

// Progress is the load-state snapshot pushed to subscribers.
type Progress struct {
	Total   int     `json:"total"`
	Loaded  int     `json:"loaded"`
	Loading int     `json:"loading"`
	Percent float64 `json:"percent"`
}

// Event records one chunk lifecycle transition for observers (event log,
// index DB).
type Event struct {
	Key  grid.ChunkKey `json:"key"`
	Kind string        `json:"kind"` // "load" | "unload" | "fail"
	At   time.Time     `json:"at"`
	Err  string        `json:"err,omitempty"`
}

// EventSink receives chunk lifecycle events. Implementations must not block.
type EventSink interface {
	ChunkEvent(Event)
}

type Config struct {
	ChunkSize     float64
	ViewDistance  float64
	MoveThreshold float64       // minimum viewer movement before Update does work
	LoadBatch     int           // chunks loaded concurrently per update pass
	DeferDelay    time.Duration // delay before the overflow follow-up pass
}

// Manager owns the chunk map. Construct one per world and inject it where
// needed; there is deliberately no package-level instance.
type Manager struct {
	cfg  Config
	log  *log.Logger
	sink EventSink

	mu        sync.Mutex
	chunks    map[grid.ChunkKey]*Chunk
	inflight  map[grid.ChunkKey]chan struct{}
	lastView  citygen.Vec2
	hasView   bool
	subs      map[int]func(Progress)
	nextSubID int
	deferTmr  *time.Timer
}

func NewManager(cfg Config, logger *log.Logger, sink EventSink) *Manager {
	if cfg.LoadBatch <= 0 {
		cfg.LoadBatch = 3
	}
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = 100 * time.Millisecond
	}
	return &Manager{
		cfg:      cfg,
		log:      logger,
		sink:     sink,
		chunks:   make(map[grid.ChunkKey]*Chunk),
		inflight: make(map[grid.ChunkKey]chan struct{}),
		subs:     make(map[int]func(Progress)),
	}
}

// KeyFor maps a world position to its chunk key.
func (m *Manager) KeyFor(x, z float64) grid.ChunkKey {
	return grid.KeyFor(x, z, m.cfg.ChunkSize)
}

// Update diffs the in-range chunk set against the loaded set: unloads what
// fell out of range, loads up to LoadBatch new chunks now, and defers the
// overflow to a delayed follow-up pass. Movement below MoveThreshold since
// the previous update is a no-op.
func (m *Manager) Update(ctx context.Context, viewer citygen.Vec2, gen Generator) error {
	m.mu.Lock()
	if m.hasView && viewer.Dist(m.lastView) < m.cfg.MoveThreshold {
		m.mu.Unlock()
		return nil
	}
	m.lastView = viewer
	m.hasView = true
	m.mu.Unlock()

	return m.pass(ctx, viewer, gen)
}

// pass runs one diff cycle without the movement debounce.
func (m *Manager) pass(ctx context.Context, viewer citygen.Vec2, gen Generator) error {
	wanted := m.inRange(viewer)

	m.mu.Lock()
	var toUnload []grid.ChunkKey
	for k, ch := range m.chunks {
		if ch.Loaded && !wanted[k] {
			toUnload = append(toUnload, k)
		}
	}
	var toLoad []grid.ChunkKey
	for k := range wanted {
		ch := m.chunks[k]
		if (ch == nil || !ch.Loaded) && m.inflight[k] == nil {
			toLoad = append(toLoad, k)
		}
	}
	m.mu.Unlock()

	for _, k := range toUnload {
		m.Unload(k.CX, k.CZ)
	}

	// Nearest chunks first so the area around the viewer fills in before
	// the periphery.
	sort.Slice(toLoad, func(i, j int) bool {
		return m.centerDist(toLoad[i], viewer) < m.centerDist(toLoad[j], viewer)
	})

	batch := toLoad
	if len(batch) > m.cfg.LoadBatch {
		batch = toLoad[:m.cfg.LoadBatch]
		m.scheduleFollowUp(viewer, gen)
	}

	var wg sync.WaitGroup
	for _, k := range batch {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Load logs its own failures; a failed chunk retries when
			// the viewer re-enters range.
			_, _ = m.Load(ctx, k.CX, k.CZ, gen)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Manager) scheduleFollowUp(viewer citygen.Vec2, gen Generator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deferTmr != nil {
		m.deferTmr.Stop()
	}
	m.deferTmr = time.AfterFunc(m.cfg.DeferDelay, func() {
		_ = m.pass(context.Background(), viewer, gen)
	})
}

// inRange returns the keys of every cell whose center lies within
// ViewDistance of the viewer.
func (m *Manager) inRange(viewer citygen.Vec2) map[grid.ChunkKey]bool {
	out := make(map[grid.ChunkKey]bool)
	size := m.cfg.ChunkSize
	vd := m.cfg.ViewDistance
	minCX := int(math.Floor((viewer.X - vd) / size))
	maxCX := int(math.Floor((viewer.X + vd) / size))
	minCZ := int(math.Floor((viewer.Z - vd) / size))
	maxCZ := int(math.Floor((viewer.Z + vd) / size))
	for cx := minCX; cx <= maxCX; cx++ {
		for cz := minCZ; cz <= maxCZ; cz++ {
			k := grid.ChunkKey{CX: cx, CZ: cz}
			if m.centerDist(k, viewer) <= vd {
				out[k] = true
			}
		}
	}
	return out
}

func (m *Manager) centerDist(k grid.ChunkKey, viewer citygen.Vec2) float64 {
	x, z := k.Center(m.cfg.ChunkSize)
	return viewer.Dist(citygen.Vec2{X: x, Z: z})
}

// Load materializes one chunk. Idempotent: an already-loaded chunk returns
// immediately, and a load already in flight is joined rather than
// duplicated. The loading flag is always cleared, success or not.
func (m *Manager) Load(ctx context.Context, cx, cz int, gen Generator) (*Chunk, error) {
	k := grid.ChunkKey{CX: cx, CZ: cz}

	m.mu.Lock()
	ch := m.ensureLocked(k)
	if ch.Loaded {
		m.mu.Unlock()
		return ch, nil
	}
	if done, ok := m.inflight[k]; ok {
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return ch, nil
	}
	done := make(chan struct{})
	m.inflight[k] = done
	m.mu.Unlock()
	m.notify()

	content, err := gen(ctx, k)

	m.mu.Lock()
	delete(m.inflight, k)
	if err != nil {
		m.mu.Unlock()
		close(done)
		if m.log != nil {
			m.log.Printf("chunk %s: generate failed: %v", k, err)
		}
		m.emit(Event{Key: k, Kind: "fail", At: time.Now(), Err: err.Error()})
		m.notify()
		return ch, err
	}
	ch.Buildings = content.Buildings
	ch.Roads = content.Roads
	ch.Assets = content.Assets
	ch.Loaded = true
	m.mu.Unlock()
	close(done)
	m.emit(Event{Key: k, Kind: "load", At: time.Now()})
	m.notify()
	return ch, nil
}

// Unload empties a chunk and marks it unloaded. The map entry stays so
// re-entry reuses the same object.
func (m *Manager) Unload(cx, cz int) {
	k := grid.ChunkKey{CX: cx, CZ: cz}
	m.mu.Lock()
	ch, ok := m.chunks[k]
	if !ok || !ch.Loaded {
		m.mu.Unlock()
		return
	}
	ch.Buildings = nil
	ch.Roads = nil
	ch.Assets = nil
	ch.Loaded = false
	m.mu.Unlock()
	m.emit(Event{Key: k, Kind: "unload", At: time.Now()})
	m.notify()
}

func (m *Manager) ensureLocked(k grid.ChunkKey) *Chunk {
	ch, ok := m.chunks[k]
	if !ok {
		ch = &Chunk{Key: k}
		m.chunks[k] = ch
	}
	return ch
}

// Chunk returns the chunk for a key, or nil if never referenced.
func (m *Manager) Chunk(cx, cz int) *Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks[grid.ChunkKey{CX: cx, CZ: cz}]
}

// ChunkView returns a copy of a loaded chunk's payload, taken under the
// manager lock. Load and Unload replace the payload slices rather than
// mutating them in place, so the copied headers stay valid after release.
func (m *Manager) ChunkView(cx, cz int) (Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chunks[grid.ChunkKey{CX: cx, CZ: cz}]
	if !ok || !ch.Loaded {
		return Content{}, false
	}
	return Content{Buildings: ch.Buildings, Roads: ch.Roads, Assets: ch.Assets}, true
}

// LoadedKeys returns the currently loaded keys in stable order.
func (m *Manager) LoadedKeys() []grid.ChunkKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]grid.ChunkKey, 0, len(m.chunks))
	for k, ch := range m.chunks {
		if ch.Loaded {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Progress reports the current load-state snapshot.
func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressLocked()
}

func (m *Manager) progressLocked() Progress {
	p := Progress{Total: len(m.chunks), Loading: len(m.inflight)}
	for _, ch := range m.chunks {
		if ch.Loaded {
			p.Loaded++
		}
	}
	if p.Total > 0 {
		p.Percent = 100 * float64(p.Loaded) / float64(p.Total)
	}
	return p
}

// Subscribe registers fn, invokes it immediately with the current snapshot,
// and returns an unsubscribe func. fn is renotified on every state change.
func (m *Manager) Subscribe(fn func(Progress)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	snap := m.progressLocked()
	m.mu.Unlock()

	fn(snap)
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.progressLocked()
	fns := make([]func(Progress), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (m *Manager) emit(ev Event) {
	if m.sink != nil {
		m.sink.ChunkEvent(ev)
	}
}

// Close stops any pending follow-up pass.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deferTmr != nil {
		m.deferTmr.Stop()
		m.deferTmr = nil
	}
}
