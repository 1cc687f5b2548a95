// Package ws streams the world to viewer clients: VIEW positions in,
// chunk deltas, progress snapshots, and quality changes out.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"citycraft.dev/internal/protocol"
	"citycraft.dev/internal/sim/grid"
	"citycraft.dev/internal/sim/quality"
	"citycraft.dev/internal/sim/stream"
)

type Server struct {
	mgr    *stream.Manager
	gen    stream.Generator
	qm     *quality.Manager
	params protocol.WorldParams
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(mgr *stream.Manager, gen stream.Generator, qm *quality.Manager, params protocol.WorldParams, logger *log.Logger) *Server {
	return &Server{
		mgr:    mgr,
		gen:    gen,
		qm:     qm,
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// session tracks what one connection has been sent, so chunk pushes are
// deltas rather than full sets.
type session struct {
	id   string
	out  chan []byte
	sent map[grid.ChunkKey]bool
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		if s.log != nil {
			s.log.Printf("session %s connected", sess.id)
		}

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Progress and quality pushes ride the same out channel.
		unsubProgress := s.mgr.Subscribe(func(p stream.Progress) {
			sess.send(protocol.ProgressMsg{
				Type:            protocol.TypeProgress,
				ProtocolVersion: protocol.Version,
				Progress:        p,
			})
		})
		defer unsubProgress()
		unsubQuality := s.qm.Subscribe(func(q quality.Settings) {
			sess.send(protocol.QualityMsg{
				Type:            protocol.TypeQuality,
				ProtocolVersion: protocol.Version,
				Settings:        q,
			})
		})
		defer unsubQuality()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeView {
				continue
			}
			var view protocol.ViewMsg
			if err := json.Unmarshal(msg, &view); err != nil {
				sess.send(protocol.ErrorMsg{
					Type:            protocol.TypeError,
					ProtocolVersion: protocol.Version,
					Code:            protocol.ErrBadRequest,
					Message:         "malformed VIEW",
				})
				continue
			}
			if view.ProtocolVersion != protocol.Version {
				continue
			}
			s.handleView(sess, view)
		}

		if s.log != nil {
			s.log.Printf("session %s disconnected", sess.id)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if strings.TrimSpace(hello.ViewerName) == "" {
		hello.ViewerName = "viewer"
	}
	if hello.Capabilities.Mobile {
		mobile := true
		s.qm.UpdateSettings(quality.Patch{Mobile: &mobile})
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	sess := &session{
		id:   uuid.NewString(),
		out:  make(chan []byte, maxQ),
		sent: make(map[grid.ChunkKey]bool),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		WorldParams:     s.params,
		Quality:         s.qm.Settings(),
	}
	b, _ := json.Marshal(welcome)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil
	}
	return sess
}

// handleView feeds the viewer position into the chunk manager and pushes
// the resulting chunk delta.
func (s *Server) handleView(sess *session, view protocol.ViewMsg) {
	if err := s.mgr.Update(context.Background(), view.Pos, s.gen); err != nil && s.log != nil {
		s.log.Printf("session %s: update: %v", sess.id, err)
	}
	if view.FPS > 0 {
		s.qm.AdjustForFPS(view.FPS)
	}

	loaded := map[grid.ChunkKey]bool{}
	for _, k := range s.mgr.LoadedKeys() {
		loaded[k] = true
	}

	delta := protocol.ChunksMsg{Type: protocol.TypeChunks, ProtocolVersion: protocol.Version}
	var added []grid.ChunkKey
	for k := range loaded {
		if sess.sent[k] {
			continue
		}
		content, ok := s.mgr.ChunkView(k.CX, k.CZ)
		if !ok {
			continue
		}
		payload := protocol.ChunkPayload{Key: k, Assets: content.Assets}
		for _, b := range content.Buildings {
			payload.Buildings = append(payload.Buildings, *b)
		}
		payload.Roads = content.Roads
		delta.Loaded = append(delta.Loaded, payload)
		added = append(added, k)
	}
	var removed []grid.ChunkKey
	for k := range sess.sent {
		if !loaded[k] {
			delta.Unloaded = append(delta.Unloaded, k)
			removed = append(removed, k)
		}
	}
	if len(delta.Loaded) == 0 && len(delta.Unloaded) == 0 {
		return
	}
	// The sent set commits only when the delta is actually queued; a
	// dropped delta is rebuilt and resent on the next VIEW.
	if !sess.send(delta) {
		return
	}
	for _, k := range added {
		sess.sent[k] = true
	}
	for _, k := range removed {
		delete(sess.sent, k)
	}
}

// send marshals and queues a message, reporting whether it was enqueued.
// When the client is not keeping up the message is dropped: progress and
// quality snapshots are superseded by the next change anyway, and chunk
// deltas check the return value so they can be rebuilt.
func (sess *session) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case sess.out <- b:
		return true
	default:
		return false
	}
}
