// Package view holds per-view display state and the rules for patching it.
package view

import "fmt"

// Kind names a user action. The engine maps each trigger to one Kind.
type Kind string

const (
	KindDataset        Kind = "dataset"
	KindVariable       Kind = "variable"
	KindZoom           Kind = "zoom"
	KindLegend         Kind = "legend"
	KindSize           Kind = "size"
	KindClustering     Kind = "clustering"
	KindFeature        Kind = "feature"
	KindFeatures       Kind = "features"
	KindAnnotations    Kind = "annotations"
	KindComparison     Kind = "comparison"
	KindContrast       Kind = "contrast"
	KindHideUnselected Kind = "hide_unselected"
	KindShowLegend     Kind = "show_legend"
)

// Class is how much work an action requires.
type Class int

const (
	// ClassRebuild refetches data, rebuilds colors and legend and autoranges.
	ClassRebuild Class = iota
	// ClassFilter recomputes visible categories; zoom is kept.
	ClassFilter
	// ClassZoom copies an axis range to every linked view.
	ClassZoom
	// ClassLayout recomputes heatmap geometry on the existing order.
	ClassLayout
	// ClassHeatmap recomputes the heatmap, re-clustering when its inputs changed.
	ClassHeatmap
	// ClassDisplay changes presentation only; nothing is recounted.
	ClassDisplay
)

func (c Class) String() string {
	switch c {
	case ClassRebuild:
		return "rebuild"
	case ClassFilter:
		return "filter"
	case ClassZoom:
		return "zoom"
	case ClassLayout:
		return "layout"
	case ClassHeatmap:
		return "heatmap"
	case ClassDisplay:
		return "display"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify maps an action to its update class.
func Classify(k Kind) (Class, error) {
	switch k {
	case KindDataset, KindVariable, KindFeature:
		return ClassRebuild, nil
	case KindLegend, KindComparison, KindContrast, KindHideUnselected:
		return ClassFilter, nil
	case KindZoom:
		return ClassZoom, nil
	case KindSize:
		return ClassLayout, nil
	case KindClustering, KindFeatures, KindAnnotations:
		return ClassHeatmap, nil
	case KindShowLegend:
		return ClassDisplay, nil
	}
	return 0, fmt.Errorf("unknown trigger kind %q", k)
}

// Range is an axis window. A nil *Range means autorange.
type Range struct {
	X0 float64 `json:"x0"`
	X1 float64 `json:"x1"`
	Y0 float64 `json:"y0"`
	Y1 float64 `json:"y1"`
}

// Normalized returns the range with each axis in ascending order.
func (r Range) Normalized() Range {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Contains reports whether (x, y) lies inside the closed window.
func (r Range) Contains(x, y float64) bool {
	n := r.Normalized()
	return x >= n.X0 && x <= n.X1 && y >= n.Y0 && y <= n.Y1
}

// State is the display state of one embedding view. Treat it as a value:
// use Patch to derive a new one.
type State struct {
	ID             string              `json:"id"`
	Zoom           *Range              `json:"zoom,omitempty"`
	Visible        map[string]struct{} `json:"-"`
	ShowLegend     bool                `json:"showLegend"`
	HideUnselected bool                `json:"hideUnselected"`
	VisibleCount   int                 `json:"visibleCount"`
	Placeholder    string              `json:"placeholder,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Delta lists the patchable fields. Zero values leave a field unchanged.
type Delta struct {
	Zoom           *Range
	Autorange      bool
	SetVisible     bool
	Visible        map[string]struct{}
	ShowLegend     *bool
	HideUnselected *bool
}

// Patch applies d to s and returns the result. s is not modified and the
// result shares no maps with s or d.
func Patch(s State, d Delta) State {
	out := s
	out.Visible = copySet(s.Visible)
	if s.Zoom != nil {
		z := *s.Zoom
		out.Zoom = &z
	}

	switch {
	case d.Autorange:
		out.Zoom = nil
	case d.Zoom != nil:
		z := d.Zoom.Normalized()
		out.Zoom = &z
	}
	if d.SetVisible {
		out.Visible = copySet(d.Visible)
	}
	if d.ShowLegend != nil {
		out.ShowLegend = *d.ShowLegend
	}
	if d.HideUnselected != nil {
		out.HideUnselected = *d.HideUnselected
	}
	return out
}

func copySet(in map[string]struct{}) map[string]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
