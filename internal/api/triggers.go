package api

import (
	"fmt"
	"math"

	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/view"
)

// triggerRequest is the JSON body of POST /api/sessions/{id}/triggers.
// Only the fields of the named kind are read.
type triggerRequest struct {
	Kind       view.Kind   `json:"kind"`
	Dataset    string      `json:"dataset,omitempty"`
	Projection string      `json:"projection,omitempty"`
	Variable   string      `json:"variable,omitempty"`
	View       string      `json:"view,omitempty"`
	Range      *view.Range `json:"range,omitempty"`
	Value      string      `json:"value,omitempty"`
	Height     int         `json:"height,omitempty"`
	Width      int         `json:"width,omitempty"`
	On         *bool       `json:"on,omitempty"`
	Feature    string      `json:"feature,omitempty"`
	Features   []string    `json:"features,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
	Contrast   string      `json:"contrast,omitempty"`
}

// decode builds the engine trigger named by Kind.
func (req triggerRequest) decode() (engine.Trigger, error) {
	switch req.Kind {
	case view.KindDataset:
		key, err := engine.ParseDatasetKey(req.Dataset)
		if err != nil {
			return nil, err
		}
		return engine.DatasetChanged{Dataset: key, Projection: req.Projection}, nil
	case view.KindVariable:
		if req.Variable == "" {
			return nil, fmt.Errorf("variable: missing variable")
		}
		return engine.VariableChanged{Variable: req.Variable}, nil
	case view.KindZoom:
		if req.Range != nil && !finiteRange(*req.Range) {
			return nil, fmt.Errorf("zoom: range must be finite")
		}
		v := req.View
		if v == "" {
			v = engine.ViewMetadata
		}
		return engine.ZoomChanged{View: v, Range: req.Range}, nil
	case view.KindLegend:
		return engine.LegendToggled{Value: req.Value}, nil
	case view.KindSize:
		return engine.SizeChanged{Height: req.Height, Width: req.Width}, nil
	case view.KindClustering:
		on, err := required(req.On, req.Kind)
		if err != nil {
			return nil, err
		}
		return engine.ClusteringToggled{On: on}, nil
	case view.KindFeature:
		return engine.FeatureChanged{Feature: req.Feature}, nil
	case view.KindFeatures:
		return engine.FeaturesSelected{Features: req.Features}, nil
	case view.KindAnnotations:
		return engine.AnnotationsChanged{Fields: req.Fields}, nil
	case view.KindComparison:
		on, err := required(req.On, req.Kind)
		if err != nil {
			return nil, err
		}
		return engine.ComparisonToggled{On: on}, nil
	case view.KindContrast:
		if req.Contrast == "" {
			return engine.ContrastChanged{}, nil
		}
		c, err := engine.ParseContrast(req.Contrast)
		if err != nil {
			return nil, err
		}
		return engine.ContrastChanged{Contrast: c}, nil
	case view.KindHideUnselected:
		on, err := required(req.On, req.Kind)
		if err != nil {
			return nil, err
		}
		return engine.HideUnselectedToggled{On: on}, nil
	case view.KindShowLegend:
		on, err := required(req.On, req.Kind)
		if err != nil {
			return nil, err
		}
		return engine.LegendShown{View: req.View, On: on}, nil
	}
	return nil, fmt.Errorf("unknown trigger kind %q", req.Kind)
}

func required(on *bool, k view.Kind) (bool, error) {
	if on == nil {
		return false, fmt.Errorf("%s: missing \"on\"", k)
	}
	return *on, nil
}

func finiteRange(r view.Range) bool {
	for _, v := range []float64{r.X0, r.X1, r.Y0, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
