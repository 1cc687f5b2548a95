package settingsdb

import (
	"path/filepath"
	"testing"
	"time"

	"citycraft.dev/internal/sim/grid"
	"citycraft.dev/internal/sim/quality"
	"citycraft.dev/internal/sim/stream"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "city.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSettings_FirstRunIsNil(t *testing.T) {
	db := openTest(t)
	s, err := db.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("expected nil on first run, got %+v", s)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	db := openTest(t)
	in := quality.Settings{
		Preset:         quality.PresetUltra,
		RenderDistance: 1200,
		ShadowDistance: 500,
		ParticleBudget: 2000,
		Shadows:        true,
		Reflections:    true,
	}
	if err := db.SaveSettings(in); err != nil {
		t.Fatal(err)
	}
	out, err := db.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || *out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}

	// Overwrite under the same key.
	in.Preset = quality.PresetLow
	if err := db.SaveSettings(in); err != nil {
		t.Fatal(err)
	}
	out, err = db.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if out.Preset != quality.PresetLow {
		t.Fatalf("overwrite lost: %+v", out)
	}
}

func TestChunkEvents_WrittenAsync(t *testing.T) {
	db := openTest(t)
	db.ChunkEvent(stream.Event{Key: grid.ChunkKey{CX: 1, CZ: -2}, Kind: "load", At: time.Now()})
	db.ChunkEvent(stream.Event{Key: grid.ChunkKey{CX: 1, CZ: -2}, Kind: "unload", At: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs, err := db.RecentEvents(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(evs) == 2 {
			if evs[0].Kind != "unload" || evs[1].Kind != "load" {
				t.Fatalf("wrong order: %+v", evs)
			}
			if evs[0].Key != (grid.ChunkKey{CX: 1, CZ: -2}) {
				t.Fatalf("wrong key: %+v", evs[0].Key)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("events never landed in the index")
}

func TestManagerIntegration_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "city.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	qm := quality.NewManager(quality.PresetHigh, quality.DefaultThresholds(), db, nil)
	qm.SetPreset(quality.PresetLow)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	qm2 := quality.NewManager(quality.PresetHigh, quality.DefaultThresholds(), db2, nil)
	if qm2.Settings().Preset != quality.PresetLow {
		t.Fatalf("settings not restored: %+v", qm2.Settings())
	}
}
