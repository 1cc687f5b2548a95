// Package quality holds the render-quality settings bundle and steps it up
// or down from measured frame rate. Constructed and injected, never a
// package-level singleton, so tests get fresh state.
package quality

import (
	"log"
	"sync"
)

type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
	PresetUltra  Preset = "ultra"
)

// ladder orders presets for the FPS-driven step up/down.
var ladder = []Preset{PresetLow, PresetMedium, PresetHigh, PresetUltra}

type LODLevel string

const (
	LODHigh   LODLevel = "high"
	LODMedium LODLevel = "medium"
	LODLow    LODLevel = "low"
)

// Settings is the derived bundle read by every rendering decision point.
type Settings struct {
	Preset         Preset  `json:"preset"`
	RenderDistance float64 `json:"render_distance"`
	ShadowDistance float64 `json:"shadow_distance"`
	ParticleBudget int     `json:"particle_budget"`
	Shadows        bool    `json:"shadows"`
	Reflections    bool    `json:"reflections"`
	Mobile         bool    `json:"mobile"`
}

// Patch is a partial override; nil fields keep their current value.
type Patch struct {
	RenderDistance *float64 `json:"render_distance,omitempty"`
	ShadowDistance *float64 `json:"shadow_distance,omitempty"`
	ParticleBudget *int     `json:"particle_budget,omitempty"`
	Shadows        *bool    `json:"shadows,omitempty"`
	Reflections    *bool    `json:"reflections,omitempty"`
	Mobile         *bool    `json:"mobile,omitempty"`
}

func presetSettings(p Preset) Settings {
	switch p {
	case PresetLow:
		return Settings{Preset: p, RenderDistance: 300, ShadowDistance: 0, ParticleBudget: 100, Shadows: false, Reflections: false}
	case PresetMedium:
		return Settings{Preset: p, RenderDistance: 500, ShadowDistance: 150, ParticleBudget: 400, Shadows: true, Reflections: false}
	case PresetUltra:
		return Settings{Preset: p, RenderDistance: 1200, ShadowDistance: 500, ParticleBudget: 2000, Shadows: true, Reflections: true}
	default:
		return Settings{Preset: PresetHigh, RenderDistance: 800, ShadowDistance: 300, ParticleBudget: 1000, Shadows: true, Reflections: true}
	}
}

// Store persists the settings blob across runs.
type Store interface {
	LoadSettings() (*Settings, error)
	SaveSettings(Settings) error
}

// Thresholds is the FPS hysteresis band. Distinct low/high cutoffs so a
// frame rate hovering at one value does not oscillate the preset.
type Thresholds struct {
	LowFPS  float64
	HighFPS float64
}

func DefaultThresholds() Thresholds { return Thresholds{LowFPS: 30, HighFPS: 55} }

type Manager struct {
	log   *log.Logger
	store Store
	th    Thresholds

	mu        sync.Mutex
	settings  Settings
	subs      map[int]func(Settings)
	nextSubID int
}

// NewManager starts from the given preset, merged with whatever the store
// has persisted from a previous run. Store load failures fall back to the
// preset defaults — a missing blob is the common first-run case.
func NewManager(preset Preset, th Thresholds, store Store, logger *log.Logger) *Manager {
	m := &Manager{
		log:      logger,
		store:    store,
		th:       th,
		settings: presetSettings(preset),
		subs:     make(map[int]func(Settings)),
	}
	if store != nil {
		if saved, err := store.LoadSettings(); err != nil {
			if logger != nil {
				logger.Printf("quality: load settings: %v", err)
			}
		} else if saved != nil {
			m.settings = *saved
		}
	}
	return m
}

func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SetPreset replaces the whole bundle with the preset's defaults, keeping
// the mobile flag.
func (m *Manager) SetPreset(p Preset) {
	m.mu.Lock()
	mobile := m.settings.Mobile
	m.settings = presetSettings(p)
	m.settings.Mobile = mobile
	s := m.settings
	m.mu.Unlock()
	m.persistAndNotify(s)
}

// UpdateSettings applies a partial override on top of the current bundle.
func (m *Manager) UpdateSettings(p Patch) {
	m.mu.Lock()
	if p.RenderDistance != nil {
		m.settings.RenderDistance = *p.RenderDistance
	}
	if p.ShadowDistance != nil {
		m.settings.ShadowDistance = *p.ShadowDistance
	}
	if p.ParticleBudget != nil {
		m.settings.ParticleBudget = *p.ParticleBudget
	}
	if p.Shadows != nil {
		m.settings.Shadows = *p.Shadows
	}
	if p.Reflections != nil {
		m.settings.Reflections = *p.Reflections
	}
	if p.Mobile != nil {
		m.settings.Mobile = *p.Mobile
	}
	s := m.settings
	m.mu.Unlock()
	m.persistAndNotify(s)
}

// AdjustForFPS steps the preset one notch down below the low threshold and
// one notch up above the high threshold. In between, nothing happens.
func (m *Manager) AdjustForFPS(fps float64) {
	m.mu.Lock()
	idx := presetIndex(m.settings.Preset)
	next := idx
	switch {
	case fps < m.th.LowFPS && idx > 0:
		next = idx - 1
	case fps > m.th.HighFPS && idx < len(ladder)-1:
		next = idx + 1
	}
	if next == idx {
		m.mu.Unlock()
		return
	}
	mobile := m.settings.Mobile
	m.settings = presetSettings(ladder[next])
	m.settings.Mobile = mobile
	s := m.settings
	m.mu.Unlock()

	if m.log != nil {
		m.log.Printf("quality: fps %.1f, preset %s -> %s", fps, ladder[idx], ladder[next])
	}
	m.persistAndNotify(s)
}

func presetIndex(p Preset) int {
	for i, v := range ladder {
		if v == p {
			return i
		}
	}
	return 2 // high
}

// LODLevel buckets a normalized distance ratio into detail tiers. Mobile
// cuts over to lower detail sooner.
func (m *Manager) LODLevel(distance, renderDistance float64) LODLevel {
	m.mu.Lock()
	mobile := m.settings.Mobile
	m.mu.Unlock()
	return lodLevel(distance, renderDistance, mobile)
}

func lodLevel(distance, renderDistance float64, mobile bool) LODLevel {
	if renderDistance <= 0 {
		return LODLow
	}
	ratio := distance / renderDistance
	high, med := 0.3, 0.6
	if mobile {
		high, med = 0.2, 0.45
	}
	switch {
	case ratio < high:
		return LODHigh
	case ratio < med:
		return LODMedium
	default:
		return LODLow
	}
}

// Subscribe registers fn for settings-change notifications and returns an
// unsubscribe func.
func (m *Manager) Subscribe(fn func(Settings)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) persistAndNotify(s Settings) {
	if m.store != nil {
		if err := m.store.SaveSettings(s); err != nil && m.log != nil {
			m.log.Printf("quality: save settings: %v", err)
		}
	}
	m.mu.Lock()
	fns := make([]func(Settings), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
