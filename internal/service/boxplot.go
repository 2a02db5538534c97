package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/palette"
)

// DefaultMaxBoxplotFeatures caps the boxplot panel.
const DefaultMaxBoxplotFeatures = 10

// Box is the five-number summary of one feature in one condition, on
// log2(x+1) values.
type Box struct {
	Condition    string    `json:"condition"`
	N            int       `json:"n"`
	Q1           float64   `json:"q1"`
	Median       float64   `json:"median"`
	Q3           float64   `json:"q3"`
	WhiskerLow   float64   `json:"whiskerLow"`
	WhiskerHigh  float64   `json:"whiskerHigh"`
	Outliers     []float64 `json:"outliers"`
	OutlierNames []string  `json:"outlierSamples"`
}

// Boxplot is one feature's panel.
type Boxplot struct {
	Feature string `json:"feature"`
	Boxes   []Box  `json:"boxes"`
}

// Boxplots summarises the selected heatmap features per condition over the
// samples currently shown: active under the comparison filter and in a
// visible legend category.
func Boxplots(snap *engine.Snapshot, maxFeatures int) ([]Boxplot, error) {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxBoxplotFeatures
	}
	features := snap.Heatmap.Features
	if len(features) == 0 {
		return nil, cluster.ErrEmptySelection
	}
	if len(features) > maxFeatures {
		return nil, fmt.Errorf("%w: %d selected, at most %d allowed", cluster.ErrTooManyFeatures, len(features), maxFeatures)
	}

	shown := make(map[string]struct{})
	visible := snap.Views[engine.ViewMetadata].Visible
	for _, id := range snap.ActiveSamples() {
		shown[id] = struct{}{}
	}

	condField := snap.ConditionField()
	var conditions []string
	seen := map[string]struct{}{}
	for _, s := range snap.Samples() {
		if _, ok := shown[s.ID]; !ok {
			continue
		}
		if visible != nil {
			if _, ok := visible[palette.NormalizeValue(s.Metadata[snap.Variable])]; !ok {
				delete(shown, s.ID)
				continue
			}
		}
		c := palette.NormalizeValue(s.Metadata[condField])
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			conditions = append(conditions, c)
		}
	}
	conditions = orderConditions(conditions, snap.ConditionOrder())

	out := make([]Boxplot, 0, len(features))
	for _, id := range features {
		f, ok := snap.HeatmapValues(id)
		if !ok {
			continue
		}
		groups := make(map[string][]float64, len(conditions))
		names := make(map[string][]string, len(conditions))
		for i, s := range snap.Samples() {
			if _, ok := shown[s.ID]; !ok {
				continue
			}
			v := f.Log(i)
			if math.IsNaN(v) {
				continue
			}
			c := palette.NormalizeValue(s.Metadata[condField])
			groups[c] = append(groups[c], v)
			names[c] = append(names[c], s.ID)
		}
		bp := Boxplot{Feature: id, Boxes: []Box{}}
		for _, c := range conditions {
			if len(groups[c]) == 0 {
				continue
			}
			bp.Boxes = append(bp.Boxes, summarize(c, groups[c], names[c]))
		}
		out = append(out, bp)
	}
	return out, nil
}

// summarize computes quartiles with the 1.5 IQR whisker rule.
func summarize(condition string, values []float64, names []string) Box {
	b := Box{Condition: condition, N: len(values), Outliers: []float64{}, OutlierNames: []string{}}
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	b.Median, _ = stats.Median(values)
	q1, err := stats.Percentile(values, 25)
	if err != nil {
		q1 = lo
	}
	q3, err := stats.Percentile(values, 75)
	if err != nil {
		q3 = hi
	}
	b.Q1, b.Q3 = q1, q3

	iqr := q3 - q1
	lowFence, highFence := q1-1.5*iqr, q3+1.5*iqr
	b.WhiskerLow, b.WhiskerHigh = math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if v < lowFence || v > highFence {
			b.Outliers = append(b.Outliers, v)
			b.OutlierNames = append(b.OutlierNames, names[i])
			continue
		}
		b.WhiskerLow = math.Min(b.WhiskerLow, v)
		b.WhiskerHigh = math.Max(b.WhiskerHigh, v)
	}
	if math.IsInf(b.WhiskerLow, 1) {
		b.WhiskerLow, b.WhiskerHigh = q1, q3
	}
	return b
}

func orderConditions(conditions, declared []string) []string {
	rank := make(map[string]int, len(declared))
	for i, c := range declared {
		rank[c] = i
	}
	sort.SliceStable(conditions, func(i, j int) bool {
		ri, iok := rank[conditions[i]]
		rj, jok := rank[conditions[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return conditions[i] < conditions[j]
	})
	return conditions
}
