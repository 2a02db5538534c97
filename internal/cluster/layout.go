package cluster

import "github.com/omics-dash/server/internal/palette"

// LayoutConfig holds the pixel constants of the heatmap.
type LayoutConfig struct {
	RowHeight       int
	ColumnWidth     int
	DendrogramSize  int
	SizeLegendWidth int
	MarginTop       int
	MarginBottom    int
	MarginLeft      int
	MarginRight     int
	MaxHeight       int
	MaxWidth        int
	MinLabelPixels  int
}

// LayoutInput describes what the heatmap has to fit. Height and Width are
// explicit overrides; zero means automatic.
type LayoutInput struct {
	Features  int
	Samples   int
	Tracks    int
	Clustered bool
	Height    int
	Width     int
}

// Rect is a pixel rectangle.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Geometry is the computed heatmap layout.
type Geometry struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	RowHeight        float64 `json:"rowHeight"`
	ColumnWidth      float64 `json:"columnWidth"`
	Matrix           Rect    `json:"matrix"`
	Tracks           Rect    `json:"tracks"`
	ColumnDendrogram *Rect   `json:"columnDendrogram,omitempty"`
	RowDendrogram    *Rect   `json:"rowDendrogram,omitempty"`
	SizeLegend       Rect    `json:"sizeLegend"`
	RowLabels        bool    `json:"rowLabels"`
	ColumnLabels     bool    `json:"columnLabels"`
	Clamped          bool    `json:"clamped"`
}

// Layout sizes the heatmap from its contents. An explicit Height/Width
// replaces the natural size; either way the result is clamped to the
// configured maximum and labels are hidden once clamped.
func Layout(cfg LayoutConfig, in LayoutInput) Geometry {
	dendro := 0
	if in.Clustered {
		dendro = cfg.DendrogramSize
	}
	rows := in.Features + in.Tracks

	fixedH := dendro + cfg.MarginTop + cfg.MarginBottom
	fixedW := dendro + cfg.SizeLegendWidth + cfg.MarginLeft + cfg.MarginRight

	g := Geometry{
		Height: rows*cfg.RowHeight + fixedH,
		Width:  in.Samples*cfg.ColumnWidth + fixedW,
	}
	if in.Height > 0 {
		g.Height = in.Height
	}
	if in.Width > 0 {
		g.Width = in.Width
	}
	if cfg.MaxHeight > 0 && g.Height > cfg.MaxHeight {
		g.Height = cfg.MaxHeight
		g.Clamped = true
	}
	if cfg.MaxWidth > 0 && g.Width > cfg.MaxWidth {
		g.Width = cfg.MaxWidth
		g.Clamped = true
	}

	if rows > 0 {
		g.RowHeight = float64(max(g.Height-fixedH, 0)) / float64(rows)
	}
	if in.Samples > 0 {
		g.ColumnWidth = float64(max(g.Width-fixedW, 0)) / float64(in.Samples)
	}

	// Top to bottom: column dendrogram, annotation tracks, matrix.
	left := float64(cfg.MarginLeft)
	top := float64(cfg.MarginTop)
	matrixW := g.ColumnWidth * float64(in.Samples)
	if in.Clustered {
		g.ColumnDendrogram = &Rect{X: left, Y: top, W: matrixW, H: float64(dendro)}
		top += float64(dendro)
	}
	g.Tracks = Rect{X: left, Y: top, W: matrixW, H: g.RowHeight * float64(in.Tracks)}
	top += g.Tracks.H
	g.Matrix = Rect{X: left, Y: top, W: matrixW, H: g.RowHeight * float64(in.Features)}

	right := left + matrixW
	if in.Clustered {
		g.RowDendrogram = &Rect{X: right, Y: g.Matrix.Y, W: float64(dendro), H: g.Matrix.H}
		right += float64(dendro)
	}
	g.SizeLegend = Rect{X: right, Y: g.Matrix.Y, W: float64(cfg.SizeLegendWidth), H: g.Matrix.H}

	minPx := float64(cfg.MinLabelPixels)
	g.RowLabels = !g.Clamped && g.RowHeight >= minPx
	g.ColumnLabels = !g.Clamped && g.ColumnWidth >= minPx
	return g
}

// Track is one annotation strip above the matrix.
type Track struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
	Colors []string `json:"colors"`
}

// Tracks builds one strip per field for the ordered samples, listed top to
// bottom. The condition field is always adjacent to the matrix; other fields
// are stacked outward in reverse selection order.
func Tracks(fields []string, conditionField string, samples []string, meta map[string]map[string]string, res *palette.Resolver) []Track {
	var outer []string
	hasCondition := false
	for _, f := range fields {
		if f == conditionField {
			hasCondition = true
			continue
		}
		outer = append(outer, f)
	}

	order := make([]string, 0, len(fields))
	for i := len(outer) - 1; i >= 0; i-- {
		order = append(order, outer[i])
	}
	if hasCondition {
		order = append(order, conditionField)
	}

	tracks := make([]Track, 0, len(order))
	for _, f := range order {
		t := Track{Field: f, Values: make([]string, len(samples)), Colors: make([]string, len(samples))}
		d, _ := res.Domain(f)
		for j, s := range samples {
			v := palette.NormalizeValue(meta[s][f])
			t.Values[j] = v
			if d != nil {
				t.Colors[j] = d.Swatch(v)
			}
		}
		tracks = append(tracks, t)
	}
	return tracks
}
