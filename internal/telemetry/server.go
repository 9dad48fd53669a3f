// Package telemetry implements the dashboard adapter: a bidirectional
// websocket event channel (github.com/coder/websocket) plus tsweb
// admin/debug routes attached to the same HTTP mux.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"tailscale.com/tsweb"

	"github.com/fieldcortex/slamcore/internal/control"
	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/monitoring"
	"github.com/fieldcortex/slamcore/internal/posegraph"
)

// writeJSON encodes data as the body of a JSON response on the debug
// routes. Encode failures are diagnostic, not fatal: the status line has
// already been written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Errorf("telemetry: encode debug response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CommandSink is the subset of *control.Loop the dashboard channel drives:
// replacing the active drive command on an inbound operator event,
// exposing a read-only pose-graph snapshot for the "poseGraph" event and
// the /debug/posegraph admin route, and running a pose-graph optimization
// for the /debug/posegraph-optimize admin route.
type CommandSink interface {
	SetCommand(control.DriveCommand)
	GraphSnapshot() ([]posegraph.Node, []posegraph.Edge)
	OptimizeGraph() error
}

// envelope is the wire shape of every inbound/outbound dashboard event:
// a type tag plus a type-specific payload.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// driveWithSpeedsPayload is the inbound `driveWithSpeeds` payload: a
// [dx, dy, dtheta] body-frame twist.
type driveWithSpeedsPayload [3]float64

// pathfindToPositionPayload is the inbound `pathfindToPosition` payload:
// a single world-frame goal pose.
type pathfindToPositionPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Server is the dashboard's HTTP/websocket adapter. It implements
// control.Publisher, broadcasting each telemetry tick's outbound events
// to every connected client, and accepts inbound driveWithSpeeds /
// pathfindToPosition events that replace the control loop's active drive
// command.
type Server struct {
	sink      CommandSink
	staticDir string

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer builds a dashboard server driving the given command sink
// (normally *control.Loop).
func NewServer(sink CommandSink) *Server {
	return &Server{sink: sink, conns: make(map[*websocket.Conn]struct{})}
}

// SetStaticDir mounts the prebuilt SPA at the mux root. Empty (the
// default) disables static serving; call before ServeMux.
func (s *Server) SetStaticDir(dir string) {
	s.staticDir = dir
}

// ServeMux builds the dashboard's HTTP mux: the "/ws" bidirectional
// socket, tsweb-gated debug routes, and (when configured) the static SPA
// at the root.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.attachAdminRoutes(mux)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

func (s *Server) attachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("posegraph", "dump the current pose graph as JSON", func(w http.ResponseWriter, r *http.Request) {
		nodes, edges := s.sink.GraphSnapshot()
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
	})
	debug.HandleFunc("posegraph-optimize", "run Gauss-Newton over the pose graph", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.sink.OptimizeGraph(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		nodes, edges := s.sink.GraphSnapshot()
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
	})
}

// handleWS upgrades the connection and runs the read loop until the
// client disconnects or the server shuts down; each decoded inbound
// event is dispatched to the command sink before the loop reads the
// next one.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		monitoring.Errorf("telemetry: websocket accept failed: %v", err)
		return
	}
	defer c.CloseNow()

	s.addConn(c)
	defer s.removeConn(c)

	ctx := r.Context()
	for {
		var env envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return
		}
		s.handleInbound(env)
	}
}

func (s *Server) handleInbound(env envelope) {
	switch env.Type {
	case "driveWithSpeeds":
		var p driveWithSpeedsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			monitoring.Warnf("telemetry: malformed driveWithSpeeds payload: %v", err)
			return
		}
		s.sink.SetCommand(control.NewTeleopVelocity(geometry.Twist2d{Dx: p[0], Dy: p[1], Dtheta: p[2]}))

	case "pathfindToPosition":
		var p pathfindToPositionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			monitoring.Warnf("telemetry: malformed pathfindToPosition payload: %v", err)
			return
		}
		s.sink.SetCommand(control.NewPathfindToPosition(geometry.NewTransform2d(p.X, p.Y, p.Theta)))

	default:
		monitoring.Warnf("telemetry: unrecognized inbound event type %q", env.Type)
	}
}

func (s *Server) addConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) removeConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// snapshot copies the current connection set under lock so broadcast
// writes (which can block on a slow client) never happen while the lock
// is held: never hold a lock across a blocking call.
func (s *Server) snapshot() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) broadcast(eventType string, payload interface{}) {
	conns := s.snapshot()
	if len(conns) == 0 {
		return
	}
	msg := outboundEnvelope{Type: eventType, Payload: payload}
	ctx := context.Background()
	for _, c := range conns {
		if err := wsjson.Write(ctx, c, msg); err != nil {
			monitoring.Warnf("telemetry: broadcast %s failed: %v", eventType, err)
		}
	}
}

// Publish implements control.Publisher: one websocket broadcast per
// outbound event, sent for every control-loop tick.
func (s *Server) Publish(t control.Telemetry) {
	s.broadcast("odom", t.Odom)
	s.broadcast("pointCloud", t.PointCloud)
	if t.PoseGraphNode >= 0 {
		s.broadcast("poseGraphNode", t.PoseGraphNode)
		nodes, edges := s.sink.GraphSnapshot()
		s.broadcast("poseGraph", map[string]any{"nodes": nodes, "edges": edges})
	}
	s.broadcast("path", t.Path)
	s.broadcast("pursuitPose", t.PursuitPose)
	s.broadcast("lidarStatus", t.LidarStatus)
	s.broadcast("arduinoStatus", t.ArduinoStatus)
}
