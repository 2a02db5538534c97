package engine

import "github.com/omics-dash/server/internal/view"

// Trigger is a user action. The set of triggers is closed: only types in
// this package implement it.
type Trigger interface {
	Kind() view.Kind
	trigger()
}

// DatasetChanged switches dataset and, optionally, projection.
type DatasetChanged struct {
	Dataset    DatasetKey
	Projection string
}

// VariableChanged switches the metadata variable used for coloring.
type VariableChanged struct {
	Variable string
}

// ZoomChanged sets the axis window of one view. A nil Range resets to
// autorange.
type ZoomChanged struct {
	View  string
	Range *view.Range
}

// LegendToggled flips one category of the shared legend.
type LegendToggled struct {
	Value string
}

// SizeChanged overrides the heatmap size. Zero keeps the automatic size.
type SizeChanged struct {
	Height int
	Width  int
}

// ClusteringToggled switches the heatmap between clustered and sorted mode.
type ClusteringToggled struct {
	On bool
}

// FeatureChanged selects the feature colouring the feature view.
type FeatureChanged struct {
	Feature string
}

// FeaturesSelected replaces the heatmap and boxplot feature selection.
type FeaturesSelected struct {
	Features []string
}

// AnnotationsChanged replaces the heatmap annotation fields.
type AnnotationsChanged struct {
	Fields []string
}

// ComparisonToggled restricts every view to the samples of the contrast.
type ComparisonToggled struct {
	On bool
}

// ContrastChanged selects the active contrast.
type ContrastChanged struct {
	Contrast Contrast
}

// HideUnselectedToggled drops hidden categories from the views and locks
// the legend.
type HideUnselectedToggled struct {
	On bool
}

// LegendShown shows or hides the legend panel of a view. An empty View
// applies to every linked view.
type LegendShown struct {
	View string
	On   bool
}

func (DatasetChanged) Kind() view.Kind        { return view.KindDataset }
func (VariableChanged) Kind() view.Kind       { return view.KindVariable }
func (ZoomChanged) Kind() view.Kind           { return view.KindZoom }
func (LegendToggled) Kind() view.Kind         { return view.KindLegend }
func (SizeChanged) Kind() view.Kind           { return view.KindSize }
func (ClusteringToggled) Kind() view.Kind     { return view.KindClustering }
func (FeatureChanged) Kind() view.Kind        { return view.KindFeature }
func (FeaturesSelected) Kind() view.Kind      { return view.KindFeatures }
func (AnnotationsChanged) Kind() view.Kind    { return view.KindAnnotations }
func (ComparisonToggled) Kind() view.Kind     { return view.KindComparison }
func (ContrastChanged) Kind() view.Kind       { return view.KindContrast }
func (HideUnselectedToggled) Kind() view.Kind { return view.KindHideUnselected }
func (LegendShown) Kind() view.Kind           { return view.KindShowLegend }

func (DatasetChanged) trigger()        {}
func (VariableChanged) trigger()       {}
func (ZoomChanged) trigger()           {}
func (LegendToggled) trigger()         {}
func (SizeChanged) trigger()           {}
func (ClusteringToggled) trigger()     {}
func (FeatureChanged) trigger()        {}
func (FeaturesSelected) trigger()      {}
func (AnnotationsChanged) trigger()    {}
func (ComparisonToggled) trigger()     {}
func (ContrastChanged) trigger()       {}
func (HideUnselectedToggled) trigger() {}
func (LegendShown) trigger()           {}

// slot is a group of controls whose fetches replace each other. A newer
// fetch supersedes an in-flight one only within its slot; a dataset change
// supersedes every slot.
type slot int

const (
	slotDataset slot = iota
	slotFeature
	slotHeatmap
	numSlots
)

// fetchSlot reports whether a trigger needs the data access layer and, if
// so, which slot its fetch occupies.
func fetchSlot(t Trigger) (slot, bool) {
	switch t.(type) {
	case DatasetChanged:
		return slotDataset, true
	case FeatureChanged:
		return slotFeature, true
	case FeaturesSelected:
		return slotHeatmap, true
	}
	return 0, false
}
