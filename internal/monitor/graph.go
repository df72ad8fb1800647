package monitor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// GraphPoint is one packet on the traffic graph.
type GraphPoint struct {
	Time       time.Time
	Length     int
	Prediction string
	Confidence float64
}

const (
	graphTitle     = "Network Traffic Analysis - Benign (Green) vs DDoS (Red)"
	jumboThreshold = 1500
	graphWidth     = 12 * vg.Inch
	graphHeight    = 6 * vg.Inch
)

var (
	colorBenign     = color.RGBA{G: 128, A: 255}
	colorDDoS       = color.RGBA{R: 255, A: 255}
	colorConfidence = color.RGBA{B: 255, A: 110}
	colorThreshold  = color.RGBA{R: 255, G: 165, A: 90}
)

// RenderGraph draws packet size over time coloured by verdict and returns
// it as a base64 PNG. Confidence is drawn against the packet size axis,
// scaled so that 1.0 sits at the top of the data range.
func RenderGraph(points []GraphPoint) (string, error) {
	if len(points) == 0 {
		return "", nil
	}
	p, err := buildGraph(points)
	if err != nil {
		return "", err
	}
	wt, err := p.WriterTo(graphWidth, graphHeight, "png")
	if err != nil {
		return "", fmt.Errorf("monitor: graph canvas: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("monitor: graph encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func buildGraph(points []GraphPoint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = graphTitle
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Packet Size (bytes)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Y.Min = 0

	grid := plotter.NewGrid()
	grid.Vertical.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	grid.Horizontal.Dashes = grid.Vertical.Dashes
	p.Add(grid)

	var benign, ddos plotter.XYs
	conf := make(plotter.XYs, len(points))
	maxLen := 0.0
	for _, pt := range points {
		maxLen = max(maxLen, float64(pt.Length))
	}
	if maxLen == 0 {
		maxLen = 1
	}
	for i, pt := range points {
		x := float64(pt.Time.UnixNano()) / float64(time.Second)
		xy := plotter.XY{X: x, Y: float64(pt.Length)}
		if strings.Contains(pt.Prediction, "DDoS") {
			ddos = append(ddos, xy)
		} else {
			benign = append(benign, xy)
		}
		conf[i] = plotter.XY{X: x, Y: pt.Confidence * maxLen}
	}

	for _, series := range []struct {
		name string
		xys  plotter.XYs
		c    color.Color
	}{
		{"Benign", benign, colorBenign},
		{"DDoS", ddos, colorDDoS},
	} {
		if len(series.xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(series.xys)
		if err != nil {
			return nil, fmt.Errorf("monitor: graph scatter: %w", err)
		}
		s.GlyphStyle.Color = series.c
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(series.name, s)
	}

	line, err := plotter.NewLine(conf)
	if err != nil {
		return nil, fmt.Errorf("monitor: graph confidence: %w", err)
	}
	line.LineStyle.Color = colorConfidence
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("Confidence (scaled)", line)

	threshold := plotter.NewFunction(func(float64) float64 { return jumboThreshold })
	threshold.Color = colorThreshold
	threshold.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(threshold)
	p.Legend.Add("Jumbo Frame Threshold", threshold)
	// Functions do not widen the axes; keep the threshold line in view.
	p.Y.Max = max(p.Y.Max, jumboThreshold*1.05)

	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}
