// Package render draws static PNG exports of the embedding views and the
// heatmap using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/view"
	"github.com/omics-dash/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	ViewSize        int
	PointRadius     float64
	ViewColormap    string
	HeatmapColormap string
	MissingColor    string
}

// viewPadding is the blank border around the plotted extent, in pixels.
const viewPadding = 24

// Renderer renders snapshots to PNG. View contexts all have the same size
// and are pooled; heatmap contexts are sized per request.
type Renderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	viewCmap    colormap.LinearColormap
	heatCmap    colormap.LinearColormap
	missing     color.RGBA
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.ViewSize <= 0 {
		cfg.ViewSize = 640
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = 3
	}
	r := &Renderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.ViewSize, cfg.ViewSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}

	var ok bool
	if r.viewCmap, ok = colormap.Lookup(cfg.ViewColormap); !ok {
		r.viewCmap = colormap.Viridis
	}
	if r.heatCmap, ok = colormap.Lookup(cfg.HeatmapColormap); !ok {
		r.heatCmap = colormap.RdBu
	}
	missing, err := colormap.ParseHex(cfg.MissingColor)
	if err != nil {
		missing = color.RGBA{211, 211, 211, 255}
	}
	r.missing = missing
	return r
}

// RenderView draws one linked embedding view as the client would show it:
// hidden categories are not drawn and the zoom window sets the extent.
func (r *Renderer) RenderView(snap *engine.Snapshot, viewID string) ([]byte, error) {
	st, ok := snap.Views[viewID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownView, viewID)
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)
	dc.SetColor(color.White)
	dc.Clear()

	if msg := firstNonEmpty(st.Error, st.Placeholder); msg != "" {
		r.drawMessage(dc, msg)
		return r.encodeContext(dc)
	}

	traces := snap.Traces(viewID)
	rng := st.Zoom
	if rng == nil {
		rng = extent(traces)
	}
	if rng == nil {
		return r.encodeContext(dc)
	}
	project := r.projector(*rng)

	featureLo, featureHi := valueRange(traces)
	for _, t := range traces {
		if t.LegendOnly {
			continue
		}
		var traceColor color.Color = r.missing
		if c, err := colormap.ParseHex(t.Color); err == nil {
			traceColor = c
		}
		for _, p := range t.Points {
			if st.Zoom != nil && !st.Zoom.Contains(p.X, p.Y) {
				continue
			}
			c := traceColor
			switch {
			case viewID == engine.ViewFeature:
				c = r.valueColor(p.Value, featureLo, featureHi)
			case t.Color == "" && snap.Domain != nil:
				if hc, err := colormap.ParseHex(snap.Domain.Swatch(p.Category)); err == nil {
					c = hc
				}
			}
			x, y := project(p.X, p.Y)
			dc.SetColor(c)
			dc.DrawCircle(x, y, r.config.PointRadius)
			dc.Fill()
		}
	}
	return r.encodeContext(dc)
}

func (r *Renderer) projector(rng view.Range) func(x, y float64) (float64, float64) {
	rng = rng.Normalized()
	size := float64(r.config.ViewSize)
	span := size - 2*viewPadding
	dx := rng.X1 - rng.X0
	dy := rng.Y1 - rng.Y0
	if dx == 0 {
		dx = 1
	}
	if dy == 0 {
		dy = 1
	}
	return func(x, y float64) (float64, float64) {
		px := viewPadding + (x-rng.X0)/dx*span
		py := size - viewPadding - (y-rng.Y0)/dy*span
		return px, py
	}
}

func (r *Renderer) valueColor(v, lo, hi float64) color.Color {
	if math.IsNaN(v) {
		return r.missing
	}
	if hi <= lo {
		return r.viewCmap.At(0.5)
	}
	return r.viewCmap.At((v - lo) / (hi - lo))
}

// extent is the bounding box of the drawn points padded by 5%.
func extent(traces []view.Trace) *view.Range {
	var rng *view.Range
	for _, t := range traces {
		if t.LegendOnly {
			continue
		}
		for _, p := range t.Points {
			if rng == nil {
				rng = &view.Range{X0: p.X, X1: p.X, Y0: p.Y, Y1: p.Y}
				continue
			}
			rng.X0 = math.Min(rng.X0, p.X)
			rng.X1 = math.Max(rng.X1, p.X)
			rng.Y0 = math.Min(rng.Y0, p.Y)
			rng.Y1 = math.Max(rng.Y1, p.Y)
		}
	}
	if rng == nil {
		return nil
	}
	padX := math.Max((rng.X1-rng.X0)*0.05, 0.5)
	padY := math.Max((rng.Y1-rng.Y0)*0.05, 0.5)
	rng.X0, rng.X1 = rng.X0-padX, rng.X1+padX
	rng.Y0, rng.Y1 = rng.Y0-padY, rng.Y1+padY
	return rng
}

func valueRange(traces []view.Trace) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, t := range traces {
		for _, p := range t.Points {
			if math.IsNaN(p.Value) {
				continue
			}
			lo = math.Min(lo, p.Value)
			hi = math.Max(hi, p.Value)
		}
	}
	return lo, hi
}

// RenderHeatmap draws the heatmap with its annotation tracks, dendrograms
// and z-score colorbar at the snapshot's computed geometry.
func (r *Renderer) RenderHeatmap(snap *engine.Snapshot) ([]byte, error) {
	h := snap.Heatmap
	g := h.Geometry
	if h.Order == nil || h.Error != "" || h.Placeholder != "" || g.Width <= 0 || g.Height <= 0 {
		dc := gg.NewContext(r.config.ViewSize, r.config.ViewSize/4)
		dc.SetColor(color.White)
		dc.Clear()
		r.drawMessage(dc, firstNonEmpty(h.Error, h.Placeholder, cluster.ErrEmptySelection.Error()))
		return r.encodeContext(dc)
	}

	dc := gg.NewContext(g.Width, g.Height)
	dc.SetColor(color.White)
	dc.Clear()

	o := h.Order
	for ti, tr := range h.Tracks {
		y := g.Tracks.Y + float64(ti)*g.RowHeight
		for si := range o.Samples {
			c := r.missing
			if si < len(tr.Colors) {
				if hc, err := colormap.ParseHex(tr.Colors[si]); err == nil {
					c = hc
				}
			}
			dc.SetColor(c)
			dc.DrawRectangle(g.Tracks.X+float64(si)*g.ColumnWidth, y, g.ColumnWidth, g.RowHeight)
			dc.Fill()
		}
		if g.RowLabels {
			dc.SetColor(color.Black)
			dc.DrawStringAnchored(tr.Field, g.Tracks.X-4, y+g.RowHeight/2, 1, 0.5)
		}
	}

	limit := zLimit(o.Values)
	for fi, row := range o.Values {
		y := g.Matrix.Y + float64(fi)*g.RowHeight
		for si, z := range row {
			dc.SetColor(r.heatCmap.At((z + limit) / (2 * limit)))
			dc.DrawRectangle(g.Matrix.X+float64(si)*g.ColumnWidth, y, g.ColumnWidth, g.RowHeight)
			dc.Fill()
		}
	}

	dc.SetColor(color.Black)
	if g.RowLabels {
		for fi, f := range o.Features {
			dc.DrawStringAnchored(f, g.Matrix.X-4, g.Matrix.Y+(float64(fi)+0.5)*g.RowHeight, 1, 0.5)
		}
	}
	if g.ColumnLabels {
		base := g.Matrix.Y + g.Matrix.H + 4
		for si, s := range o.Samples {
			x := g.Matrix.X + (float64(si)+0.5)*g.ColumnWidth
			dc.Push()
			dc.RotateAbout(gg.Radians(90), x, base)
			dc.DrawStringAnchored(s, x, base, 0, 0.5)
			dc.Pop()
		}
	}

	dc.SetLineWidth(1)
	if g.ColumnDendrogram != nil {
		r.drawDendrogram(dc, o.SampleBranches, *g.ColumnDendrogram, g.ColumnWidth, false)
	}
	if g.RowDendrogram != nil {
		r.drawDendrogram(dc, o.FeatureBranches, *g.RowDendrogram, g.RowHeight, true)
	}
	r.drawColorbar(dc, g.SizeLegend, limit)

	return r.encodeContext(dc)
}

// drawDendrogram maps branch leaf coordinates (leaf i at 10i+5) onto the
// cells and heights onto the rect. Column trees grow down to the matrix,
// row trees grow right away from it.
func (r *Renderer) drawDendrogram(dc *gg.Context, branches []cluster.Branch, rect cluster.Rect, cell float64, rows bool) {
	top := 0.0
	for _, b := range branches {
		for _, y := range b.Y {
			top = math.Max(top, y)
		}
	}
	if top == 0 {
		top = 1
	}
	dc.SetColor(color.Gray{Y: 64})
	for _, b := range branches {
		for k := 0; k < 3; k++ {
			pos0, pos1 := b.X[k]/10*cell, b.X[k+1]/10*cell
			h0, h1 := b.Y[k]/top, b.Y[k+1]/top
			if rows {
				dc.DrawLine(rect.X+h0*rect.W, rect.Y+pos0, rect.X+h1*rect.W, rect.Y+pos1)
			} else {
				dc.DrawLine(rect.X+pos0, rect.Y+rect.H*(1-h0), rect.X+pos1, rect.Y+rect.H*(1-h1))
			}
			dc.Stroke()
		}
	}
}

func (r *Renderer) drawColorbar(dc *gg.Context, rect cluster.Rect, limit float64) {
	if rect.W <= 0 || rect.H <= 0 {
		return
	}
	barW := math.Min(12, rect.W/2)
	x := rect.X + 8
	steps := int(math.Max(rect.H, 1))
	for i := 0; i < steps; i++ {
		dc.SetColor(r.heatCmap.At(1 - float64(i)/float64(steps)))
		dc.DrawRectangle(x, rect.Y+float64(i), barW, 1)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", limit), x+barW+3, rect.Y, 0, 0.8)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", -limit), x+barW+3, rect.Y+rect.H, 0, 0)
}

// zLimit is the symmetric color range of the z-scores, at least 1.
func zLimit(values [][]float64) float64 {
	limit := 1.0
	for _, row := range values {
		for _, z := range row {
			if !math.IsNaN(z) {
				limit = math.Max(limit, math.Abs(z))
			}
		}
	}
	return limit
}

func (r *Renderer) drawMessage(dc *gg.Context, msg string) {
	dc.SetColor(color.Gray{Y: 96})
	dc.DrawStringAnchored(msg, float64(dc.Width())/2, float64(dc.Height())/2, 0.5, 0.5)
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
