// Command posegraphplot renders a persisted pose-graph session to a PNG
// using gonum/plot: one plot.New, one or more plotter series, Save to a
// vg.Length canvas, plotting trajectory/keyframe geometry rather than a
// time series.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"github.com/google/uuid"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fieldcortex/slamcore/internal/posegraphstore"
)

var (
	dbPath    = flag.String("db", "robot.posegraph.db", "path to the pose graph sqlite store")
	sessionID = flag.String("session", "", "session UUID to render")
	outPath   = flag.String("out", "posegraph.png", "output PNG path")
	withScans = flag.Bool("scans", false, "overlay each node's saved scan points")
)

func main() {
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("-session is required")
	}
	id, err := uuid.Parse(*sessionID)
	if err != nil {
		log.Fatalf("invalid -session %q: %v", *sessionID, err)
	}

	store, err := posegraphstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open pose graph store: %v", err)
	}
	defer store.Close()

	nodes, edges, err := store.LoadGraph(id)
	if err != nil {
		log.Fatalf("failed to load session %s: %v", id, err)
	}
	if len(nodes) == 0 {
		log.Fatalf("session %s has no nodes", id)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pose graph - session %s", id)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	nodePts := make(plotter.XYs, len(nodes))
	for i, n := range nodes {
		nodePts[i] = plotter.XY{X: n.X, Y: n.Y}
	}
	scatter, err := plotter.NewScatter(nodePts)
	if err != nil {
		log.Fatalf("failed to build node scatter: %v", err)
	}
	scatter.Color = color.RGBA{R: 200, B: 50, A: 255}
	scatter.Radius = vg.Points(2)
	p.Add(scatter)
	p.Legend.Add("keyframes", scatter)

	for _, e := range edges {
		if e.I < 0 || e.J < 0 || e.I >= len(nodes) || e.J >= len(nodes) {
			continue
		}
		line, err := plotter.NewLine(plotter.XYs{
			{X: nodes[e.I].X, Y: nodes[e.I].Y},
			{X: nodes[e.J].X, Y: nodes[e.J].Y},
		})
		if err != nil {
			log.Fatalf("failed to build edge line: %v", err)
		}
		line.Color = color.RGBA{B: 200, A: 120}
		line.Width = vg.Points(0.5)
		p.Add(line)
	}

	if *withScans {
		overlayScans(p, store, id, len(nodes))
	}

	if err := p.Save(10*vg.Inch, 10*vg.Inch, *outPath); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s (%d nodes, %d edges)", *outPath, len(nodes), len(edges))
}

func overlayScans(p *plot.Plot, store *posegraphstore.Store, sessionID uuid.UUID, nodeCount int) {
	for i := 0; i < nodeCount; i++ {
		points, err := store.LoadScan(sessionID, i)
		if err != nil {
			log.Printf("load scan %d: %v", i, err)
			continue
		}
		if len(points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(points))
		for j, pt := range points {
			pts[j] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			log.Printf("build scan scatter %d: %v", i, err)
			continue
		}
		scatter.Color = color.RGBA{G: 150, A: 60}
		scatter.Radius = vg.Points(0.5)
		p.Add(scatter)
	}
}
