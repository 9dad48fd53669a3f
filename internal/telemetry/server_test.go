package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcortex/slamcore/internal/control"
	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/posegraph"
)

// fakeSink records the last command the dashboard resolved and returns a
// fixed graph snapshot, standing in for *control.Loop in isolation.
type fakeSink struct {
	mu      sync.Mutex
	lastCmd control.DriveCommand
	nodes   []posegraph.Node
	edges   []posegraph.Edge
}

func (f *fakeSink) SetCommand(c control.DriveCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCmd = c
}

func (f *fakeSink) GraphSnapshot() ([]posegraph.Node, []posegraph.Edge) {
	return f.nodes, f.edges
}

func (f *fakeSink) OptimizeGraph() error { return nil }

func (f *fakeSink) LastCommand() control.DriveCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCmd
}

func TestServer_InboundDriveWithSpeeds(t *testing.T) {
	sink := &fakeSink{}
	srv := NewServer(sink)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	err = wsjson.Write(ctx, c, outboundEnvelope{
		Type:    "driveWithSpeeds",
		Payload: [3]float64{0.5, 0.0, 0.1},
	})
	require.NoError(t, err)

	// TeleopVelocity is the zero Kind, so also wait for a non-zero twist:
	// the fake sink's initial command already has Kind == TeleopVelocity.
	require.Eventually(t, func() bool {
		cmd := sink.LastCommand()
		return cmd.Kind == control.TeleopVelocity && cmd.Twist != (geometry.Twist2d{})
	}, 2*time.Second, 10*time.Millisecond)

	cmd := sink.LastCommand()
	assert.Equal(t, geometry.Twist2d{Dx: 0.5, Dy: 0.0, Dtheta: 0.1}, cmd.Twist)
}

func TestServer_InboundPathfindToPosition(t *testing.T) {
	sink := &fakeSink{}
	srv := NewServer(sink)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	err = wsjson.Write(ctx, c, outboundEnvelope{
		Type:    "pathfindToPosition",
		Payload: pathfindToPositionPayload{X: 1, Y: 2, Theta: 0.3},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.LastCommand().Kind == control.PathfindToPosition
	}, 2*time.Second, 10*time.Millisecond)

	cmd := sink.LastCommand()
	assert.Equal(t, geometry.NewTransform2d(1, 2, 0.3), cmd.Goal)
}

func TestServer_DebugPosegraphDumpsJSON(t *testing.T) {
	sink := &fakeSink{nodes: []posegraph.Node{{X: 1, Y: 2, Theta: 0.3}}}
	srv := NewServer(sink)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/posegraph")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Nodes []posegraph.Node `json:"nodes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Nodes, 1)
	assert.Equal(t, 1.0, body.Nodes[0].X)
}

func TestServer_DebugPosegraphOptimizeRejectsGet(t *testing.T) {
	srv := NewServer(&fakeSink{})
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/posegraph-optimize")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_PublishBroadcastsOdom(t *testing.T) {
	sink := &fakeSink{}
	srv := NewServer(sink)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	// Give the server's Accept goroutine a moment to register the
	// connection before publishing, since Publish only reaches
	// already-registered connections.
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		n := len(srv.conns)
		srv.mu.Unlock()
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.Publish(control.Telemetry{Odom: geometry.NewTransform2d(1, 2, 3)})

	var env envelope
	require.NoError(t, wsjson.Read(ctx, c, &env))
	assert.Equal(t, "odom", env.Type)
}
