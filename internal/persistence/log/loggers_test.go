package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"citycraft.dev/internal/sim/grid"
	"citycraft.dev/internal/sim/stream"
)

func TestChunkEventLogger_WritesReadableJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewChunkEventLogger(dir)

	evs := []stream.Event{
		{Key: grid.ChunkKey{CX: 0, CZ: 0}, Kind: "load", At: time.Now()},
		{Key: grid.ChunkKey{CX: -1, CZ: 2}, Kind: "fail", At: time.Now(), Err: "boom"},
		{Key: grid.ChunkKey{CX: 0, CZ: 0}, Kind: "unload", At: time.Now()},
	}
	for _, ev := range evs {
		l.ChunkEvent(ev)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "events", "chunks-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var got []stream.Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev stream.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(evs) {
		t.Fatalf("got %d lines, want %d", len(got), len(evs))
	}
	for i := range evs {
		if got[i].Kind != evs[i].Kind || got[i].Key != evs[i].Key || got[i].Err != evs[i].Err {
			t.Fatalf("line %d mismatch: %+v vs %+v", i, got[i], evs[i])
		}
	}
}
