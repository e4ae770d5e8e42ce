// gen-samples writes sample draw.io and PNG outputs under docs/assets.
// Run: go run ./cmd/gen-samples
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	svg "github.com/ajstarks/svgo"

	"github.com/rendis/drawmaid/internal/raster"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/pkg/schema"
)

const flowchartSource = `flowchart LR
    fetch[Fetch order] --> check{In stock?}
    check -->|yes| pay(Charge card)
    check -->|no| restock([Notify restock])
    pay --> ship[[Ship]]`

const architectureSource = `architecture-beta
    group api(cloud)[API]
    service db(database)[Database] in api
    service disk(disk)[Storage] in api
    service server(server)[Server] in api
    db:L -- R:server
    disk:T -- B:server`

// box is a node as a renderer would have placed it.
type box struct {
	id, label  string
	cx, cy     int
	w, h       int
	decorative bool
}

var flowchartBoxes = []box{
	{id: "fetch", label: "Fetch order", cx: 80, cy: 120, w: 120, h: 50},
	{id: "check", label: "In stock?", cx: 260, cy: 120, w: 110, h: 70},
	{id: "pay", label: "Charge card", cx: 440, cy: 60, w: 120, h: 50},
	{id: "restock", label: "Notify restock", cx: 440, cy: 180, w: 140, h: 50},
	{id: "ship", label: "Ship", cx: 620, cy: 60, w: 100, h: 50},
}

// renderFlowchartSVG draws the boxes the way Mermaid's flowchart renderer structures its output.
func renderFlowchartSVG(width, height int, boxes []box) string {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(width, height)
	canvas.Rect(0, 0, width, height, "fill:white")
	canvas.Group(`class="nodes"`)
	for i, b := range boxes {
		canvas.Group(
			`class="node default"`,
			fmt.Sprintf(`id="flowchart-%s-%d"`, b.id, i),
			fmt.Sprintf(`transform="translate(%d, %d)"`, b.cx, b.cy),
		)
		canvas.Rect(-b.w/2, -b.h/2, b.w, b.h,
			`class="basic label-container"`,
			"fill:#ECECFF;stroke:#9370DB;stroke-width:1")
		canvas.Text(0, 5, b.label, "text-anchor:middle;font-size:14px;fill:#333")
		canvas.Gend()
	}
	canvas.Gend()
	canvas.End()
	return buf.String()
}

type sample struct {
	name   string
	source string
	svg    string
	format schema.OutputFormat
}

func main() {
	svc, err := service.New(service.Config{}, service.Collaborators{
		Rasterizer: raster.OKSVG{},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "service error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir error: %v\n", err)
		os.Exit(1)
	}

	flowSVG := renderFlowchartSVG(720, 240, flowchartBoxes)
	samples := []sample{
		{name: "flowchart.drawio", source: flowchartSource, svg: flowSVG, format: schema.FormatXML},
		{name: "flowchart.drawio.png", source: flowchartSource, svg: flowSVG, format: schema.FormatPNG},
		{name: "architecture.drawio", source: architectureSource, format: schema.FormatXML},
	}

	ctx := context.Background()
	for _, s := range samples {
		res, err := svc.Convert(ctx, service.Request{
			Source:  s.source,
			SVG:     s.svg,
			Options: schema.ConvertOptions{Width: 720, Height: 240, OutputFormat: s.format},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", s.name, err)
			continue
		}
		body := []byte(res.XML)
		if len(res.PNG) > 0 {
			body = res.PNG
		}
		path := filepath.Join(outDir, s.name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", s.name, err)
			continue
		}
		fmt.Printf("=== %s ===\nWritten: %s (%d bytes, %v nodes, layout %v)\n",
			s.name, path, len(body), res.Metadata["nodes_converted"], res.Metadata["layout"])
	}

	os.WriteFile(filepath.Join(outDir, "flowchart.svg"), []byte(flowSVG), 0o644)
}
