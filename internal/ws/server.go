package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	diag "github.com/coreman2200/multi-led-grid/internal/diagnostics"
	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/grid"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

const writeWait = 200 * time.Millisecond

// Commander runs a decoded request; *grid.Service implements it.
type Commander interface {
	DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error)
	Status() grid.Status
}

// Server exposes the grid over HTTP and websockets and mirrors every
// dispatched payload into a preview frame for /ws clients.
type Server struct {
	cmd Commander
	log zerolog.Logger
	up  websocket.Upgrader

	mu          sync.RWMutex
	preview     *raster.Buffer
	frameID     uint64
	startTime   time.Time
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool
}

func NewServer(cmd Commander, width, height int, logger zerolog.Logger) *Server {
	return &Server{
		cmd:         cmd,
		log:         logger,
		up:          websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		preview:     raster.New(width, height),
		startTime:   time.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
	}
}

// Attach mirrors d's traffic into the preview.
func (s *Server) Attach(d *dispatch.Dispatcher) { d.Observe(s.Mirror) }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/command", s.HandleCommand)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// Mirror applies a global payload to the preview and broadcasts the frame.
// Strips or pixels outside the grid are ignored.
func (s *Server) Mirror(p payload.Payload) {
	s.mu.Lock()
	for strip, c := range p {
		switch c := c.(type) {
		case payload.Solid:
			for x := 0; x < s.preview.W; x++ {
				s.preview.Set(x, strip, c.Color)
			}
		case payload.Pixels:
			for x, col := range c {
				s.preview.Set(x, strip, col)
			}
		}
	}
	s.frameID++
	s.log.Debug().
		Uint64("frame_id", s.frameID).
		Float64("amps", raster.EstimateCurrent(s.preview)).
		Msg("preview frame")
	f := frame{T: time.Now().UnixNano(), FrameID: s.frameID, Width: s.preview.W, Height: s.preview.H, RGB: rgbBytes(s.preview)}
	s.mu.Unlock()
	s.broadcast(f)
}

type frame struct {
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	RGB     []byte `json:"rgb"`
}

func rgbBytes(b *raster.Buffer) []byte {
	out := make([]byte, 0, len(b.Pix)*3)
	for _, c := range b.Pix {
		out = append(out, c.R, c.G, c.B)
	}
	return out
}

func (s *Server) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	// Writers hold mu so each conn only ever has one writer.
	s.mu.Lock()
	s.writeJSON(conn, frame{T: time.Now().UnixNano(), FrameID: s.frameID, Width: s.preview.W, Height: s.preview.H, RGB: rgbBytes(s.preview)})
	s.clients[conn] = true
	s.mu.Unlock()
	go s.drain(conn, s.clients)
}

func (s *Server) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.writeJSON(conn, diag.Diagnostic{Severity: diag.Info, Code: "DIAG.CONNECTED", Summary: "Diagnostics stream attached"})
	s.diagClients[conn] = true
	s.mu.Unlock()
	go s.drain(conn, s.diagClients)
}

// drain discards inbound messages until the peer goes away.
func (s *Server) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleControlWS runs one command per text message and answers each with
// a JSON reply.
func (s *Server) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(map[string]any{"success": false, "error": "malformed json: " + err.Error()})
			continue
		}
		_ = conn.WriteJSON(s.run(r.Context(), msg))
	}
}

// HandleCommand is the plain HTTP form of /control.
func (s *Server) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	var msg map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "malformed json: " + err.Error()})
		return
	}
	resp := s.run(r.Context(), msg)
	if ok, _ := resp["success"].(bool); !ok {
		if resp["code"] == "REQUEST.INVALID" {
			w.WriteHeader(http.StatusBadRequest)
		} else {
			w.WriteHeader(http.StatusBadGateway)
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) run(ctx context.Context, msg map[string]any) map[string]any {
	resp, err := s.cmd.DoCommand(ctx, msg)
	if err != nil {
		d := diag.FromError(err)
		s.log.Warn().Err(err).Str("code", d.Code).Msg("command failed")
		s.pushDiag(d)
		return map[string]any{"success": false, "error": err.Error(), "code": d.Code}
	}
	return resp
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"frame_id":       s.frameID,
		"uptime_s":       time.Since(s.startTime).Seconds(),
		"estimated_amps": raster.EstimateCurrent(s.preview),
		"status":         s.cmd.Status(),
	}
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) broadcast(f frame) {
	b, _ := json.Marshal(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			s.log.Debug().Err(err).Msg("write frame")
		}
	}
}

func (s *Server) pushDiag(d diag.Diagnostic) {
	b, _ := json.Marshal(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.diagClients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}

func (s *Server) writeJSON(c *websocket.Conn, v any) {
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("write")
	}
}
