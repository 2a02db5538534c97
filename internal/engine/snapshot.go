package engine

import (
	"math"
	"strconv"

	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/legend"
	"github.com/omics-dash/server/internal/palette"
	"github.com/omics-dash/server/internal/view"
)

// Linked embedding views. Both share the legend, zoom and sample membership.
const (
	ViewMetadata = "metadata"
	ViewFeature  = "feature"
)

// LinkedViews lists the embedding views in display order.
var LinkedViews = []string{ViewMetadata, ViewFeature}

// Sample is one sample with its metadata and projected coordinates.
type Sample struct {
	ID       string
	Metadata map[string]string
	Coords   map[string][2]float64
}

// Feature holds one feature's values aligned with the dataset's samples.
// Missing values are NaN.
type Feature struct {
	ID     string
	Values []float64
}

// Log returns log2(x+1) of the i-th value, or NaN when missing.
func (f *Feature) Log(i int) float64 {
	v := f.Values[i]
	if math.IsNaN(v) {
		return v
	}
	return math.Log2(math.Max(v, 0) + 1)
}

// Heatmap is the state of the clustered heatmap.
type Heatmap struct {
	Features    []string         `json:"features"`
	Annotations []string         `json:"annotations"`
	Clustered   bool             `json:"clustered"`
	Height      int              `json:"height,omitempty"`
	Width       int              `json:"width,omitempty"`
	Order       *cluster.Order   `json:"order,omitempty"`
	Geometry    cluster.Geometry `json:"geometry"`
	Tracks      []cluster.Track  `json:"tracks,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	Error       string           `json:"error,omitempty"`

	values map[string]*Feature
}

// Snapshot is the complete, immutable state of a session after one trigger.
// Exported slices and maps must not be modified by callers.
type Snapshot struct {
	Seq            uint64                `json:"seq"`
	Dataset        DatasetKey            `json:"dataset"`
	Projection     string                `json:"projection"`
	Variable       string                `json:"variable"`
	Feature        string                `json:"feature,omitempty"`
	Contrast       Contrast              `json:"contrast"`
	ComparisonOnly bool                  `json:"comparisonOnly"`
	Domain         *palette.Domain       `json:"domain,omitempty"`
	Variables      []string              `json:"variables,omitempty"`
	Legend         *legend.Model         `json:"legend"`
	Views          map[string]view.State `json:"views"`
	Heatmap        Heatmap               `json:"heatmap"`
	Warnings       []string              `json:"warnings,omitempty"`

	samples      []Sample
	fields       []string
	resolver     *palette.Resolver
	feature      *Feature
	featureErr   string
	embeddingErr string
	samplesErr   string
	condField    string
	condOrder    []string
}

// clone returns a shallow copy with its own Views map and Warnings slice.
func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Views = make(map[string]view.State, len(s.Views))
	for k, v := range s.Views {
		out.Views[k] = view.Patch(v, view.Delta{})
	}
	out.Warnings = nil
	out.Heatmap.Features = append([]string(nil), s.Heatmap.Features...)
	out.Heatmap.Annotations = append([]string(nil), s.Heatmap.Annotations...)
	return &out
}

// Samples returns every sample of the dataset.
func (s *Snapshot) Samples() []Sample { return s.samples }

// FeatureValues returns the loaded values of the feature view, if any.
func (s *Snapshot) FeatureValues() *Feature { return s.feature }

// HeatmapValues returns the loaded values of a selected heatmap feature.
func (s *Snapshot) HeatmapValues(id string) (*Feature, bool) {
	f, ok := s.Heatmap.values[id]
	return f, ok
}

// active reports whether sample i passes the comparison filter.
func (s *Snapshot) active(i int) bool {
	if !s.ComparisonOnly || s.Contrast.IsZero() {
		return true
	}
	return s.Contrast.Includes(s.samples[i].Metadata[s.condField])
}

// ConditionField returns the metadata field holding the condition.
func (s *Snapshot) ConditionField() string { return s.condField }

// ConditionOrder returns the declared condition order of the dataset.
func (s *Snapshot) ConditionOrder() []string { return s.condOrder }

// Points returns the points of a linked view for the active samples. Feature
// view points carry log2(x+1) values; metadata view points carry the
// variable's number when it is continuous.
func (s *Snapshot) Points(viewID string) []view.Point {
	continuous := s.Domain != nil && s.Domain.Kind == palette.Continuous
	out := make([]view.Point, 0, len(s.samples))
	for i, smp := range s.samples {
		xy, ok := smp.Coords[s.Projection]
		if !ok || !s.active(i) {
			continue
		}
		p := view.Point{
			ID:       smp.ID,
			X:        xy[0],
			Y:        xy[1],
			Category: palette.NormalizeValue(smp.Metadata[s.Variable]),
			Value:    math.NaN(),
		}
		switch {
		case viewID == ViewFeature:
			if s.feature != nil {
				p.Value = s.feature.Log(i)
			}
		case continuous && p.Category != palette.Missing:
			if v, err := strconv.ParseFloat(p.Category, 64); err == nil {
				p.Value = v
			}
		}
		out = append(out, p)
	}
	return out
}

// ActiveSamples returns the ids of samples passing the comparison filter.
func (s *Snapshot) ActiveSamples() []string {
	out := make([]string, 0, len(s.samples))
	for i, smp := range s.samples {
		if s.active(i) {
			out = append(out, smp.ID)
		}
	}
	return out
}

// Traces groups a view's points by legend category. A continuous variable
// has no categories and yields one trace.
func (s *Snapshot) Traces(viewID string) []view.Trace {
	st, ok := s.Views[viewID]
	if !ok {
		return nil
	}
	if s.Domain != nil && s.Domain.Kind == palette.Continuous {
		pts := s.Points(viewID)
		if len(pts) == 0 {
			return nil
		}
		return []view.Trace{{Category: s.Variable, Points: pts}}
	}
	var order []string
	var colors func(string) string
	if s.Domain != nil && s.Domain.Kind == palette.Discrete {
		order = s.Domain.Values
		colors = s.Domain.Hex
	}
	return view.Traces(s.Points(viewID), order, colors, st.Visible, st.HideUnselected)
}

// Controls is the replayable part of a snapshot.
type Controls struct {
	Dataset        string      `json:"dataset"`
	Projection     string      `json:"projection,omitempty"`
	Variable       string      `json:"variable,omitempty"`
	Feature        string      `json:"feature,omitempty"`
	Contrast       string      `json:"contrast,omitempty"`
	ComparisonOnly bool        `json:"comparisonOnly,omitempty"`
	Hidden         []string    `json:"hidden,omitempty"`
	HideUnselected bool        `json:"hideUnselected,omitempty"`
	HiddenLegends  []string    `json:"hiddenLegends,omitempty"`
	Zoom           *view.Range `json:"zoom,omitempty"`
	Features       []string    `json:"features,omitempty"`
	Annotations    []string    `json:"annotations,omitempty"`
	Clustered      bool        `json:"clustered"`
	Height         int         `json:"height,omitempty"`
	Width          int         `json:"width,omitempty"`
}

// Controls extracts the user-set controls of the snapshot.
func (s *Snapshot) Controls() Controls {
	c := Controls{
		Dataset:        s.Dataset.String(),
		Projection:     s.Projection,
		Variable:       s.Variable,
		Feature:        s.Feature,
		Contrast:       s.Contrast.String(),
		ComparisonOnly: s.ComparisonOnly,
		Features:       append([]string(nil), s.Heatmap.Features...),
		Annotations:    append([]string(nil), s.Heatmap.Annotations...),
		Clustered:      s.Heatmap.Clustered,
		Height:         s.Heatmap.Height,
		Width:          s.Heatmap.Width,
	}
	if s.Legend != nil {
		c.HideUnselected = s.Legend.HideUnselected
		for _, e := range s.Legend.Entries {
			if !e.Visible {
				c.Hidden = append(c.Hidden, e.Value)
			}
		}
	}
	for _, id := range LinkedViews {
		if st, ok := s.Views[id]; ok && !st.ShowLegend {
			c.HiddenLegends = append(c.HiddenLegends, id)
		}
	}
	if st, ok := s.Views[ViewMetadata]; ok && st.Zoom != nil {
		z := *st.Zoom
		c.Zoom = &z
	}
	return c
}

// Replay returns the triggers that rebuild c from an empty session.
func (c Controls) Replay() ([]Trigger, error) {
	key, err := ParseDatasetKey(c.Dataset)
	if err != nil {
		return nil, err
	}
	ts := []Trigger{DatasetChanged{Dataset: key, Projection: c.Projection}}
	if c.Variable != "" {
		ts = append(ts, VariableChanged{Variable: c.Variable})
	}
	if c.Contrast != "" {
		ct, err := ParseContrast(c.Contrast)
		if err != nil {
			return nil, err
		}
		ts = append(ts, ContrastChanged{Contrast: ct})
	}
	if c.ComparisonOnly {
		ts = append(ts, ComparisonToggled{On: true})
	}
	for _, v := range c.Hidden {
		ts = append(ts, LegendToggled{Value: v})
	}
	if c.HideUnselected {
		ts = append(ts, HideUnselectedToggled{On: true})
	}
	for _, id := range c.HiddenLegends {
		ts = append(ts, LegendShown{View: id, On: false})
	}
	if c.Feature != "" {
		ts = append(ts, FeatureChanged{Feature: c.Feature})
	}
	ts = append(ts, ClusteringToggled{On: c.Clustered})
	if len(c.Annotations) > 0 {
		ts = append(ts, AnnotationsChanged{Fields: c.Annotations})
	}
	if len(c.Features) > 0 {
		ts = append(ts, FeaturesSelected{Features: c.Features})
	}
	if c.Height > 0 || c.Width > 0 {
		ts = append(ts, SizeChanged{Height: c.Height, Width: c.Width})
	}
	if c.Zoom != nil {
		z := *c.Zoom
		ts = append(ts, ZoomChanged{View: ViewMetadata, Range: &z})
	}
	return ts, nil
}
