package protocol

import (
	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/grid"
	"citycraft.dev/internal/sim/quality"
	"citycraft.dev/internal/sim/stream"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ViewerName      string            `json:"viewer_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int  `json:"max_queue,omitempty"`
	Mobile   bool `json:"mobile,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	WorldParams     WorldParams      `json:"world_params"`
	Quality         quality.Settings `json:"quality"`
}

type WorldParams struct {
	Seed         int64   `json:"seed"`
	CitySize     float64 `json:"city_size"`
	ChunkSize    float64 `json:"chunk_size"`
	ViewDistance float64 `json:"view_distance"`
}

// VIEW (client -> server): viewer position each frame, plus the measured
// frame rate so the server can adapt quality.
type ViewMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Pos             citygen.Vec2 `json:"pos"`
	FPS             float64      `json:"fps,omitempty"`
}

// CHUNKS (server -> client): the chunk delta since the previous push.
type ChunksMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Loaded          []ChunkPayload  `json:"loaded,omitempty"`
	Unloaded        []grid.ChunkKey `json:"unloaded,omitempty"`
}

type ChunkPayload struct {
	Key       grid.ChunkKey         `json:"key"`
	Buildings []citygen.Building    `json:"buildings,omitempty"`
	Roads     []citygen.RoadSegment `json:"roads,omitempty"`
	Assets    []string              `json:"assets,omitempty"`
}

// PROGRESS (server -> client)
type ProgressMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Progress        stream.Progress `json:"progress"`
}

// QUALITY (server -> client): pushed whenever settings change.
type QualityMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Settings        quality.Settings `json:"settings"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
