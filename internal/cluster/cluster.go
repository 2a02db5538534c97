// Package cluster computes heatmap orderings, dendrograms and layout.
//
// In clustering mode rows (features) and columns (samples) are ordered
// independently by complete-linkage clustering of log2(x+1) row z-scores.
// In sorted mode samples follow the condition order and features keep the
// selection order.
package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

var (
	// ErrEmptySelection is returned when fewer than two features are selected.
	ErrEmptySelection = errors.New("select at least two features")
	// ErrTooManyFeatures is returned when the selection exceeds the cap.
	ErrTooManyFeatures = errors.New("too many features selected")
)

// CheckSelection validates the number of selected features against a cap.
// A cap <= 0 disables the upper bound.
func CheckSelection(n, maxFeatures int) error {
	if maxFeatures > 0 && n > maxFeatures {
		return fmt.Errorf("%w: %d selected, at most %d allowed", ErrTooManyFeatures, n, maxFeatures)
	}
	if n < 2 {
		return ErrEmptySelection
	}
	return nil
}

// Matrix holds raw per-sample values, Values[feature][sample].
type Matrix struct {
	Features []string
	Samples  []string
	Values   [][]float64
}

// NewMatrix builds a matrix from per-feature sample→value maps. Samples
// absent from a feature's map count as zero.
func NewMatrix(features, samples []string, values map[string]map[string]float64) Matrix {
	m := Matrix{
		Features: append([]string(nil), features...),
		Samples:  append([]string(nil), samples...),
		Values:   make([][]float64, len(features)),
	}
	for i, f := range features {
		row := make([]float64, len(samples))
		for j, s := range samples {
			if v, ok := values[f][s]; ok && !math.IsNaN(v) {
				row[j] = v
			}
		}
		m.Values[i] = row
	}
	return m
}

// Scaled returns log2(x+1) values z-scored per row with the population
// standard deviation. Zero-variance rows become all zero.
func (m Matrix) Scaled() [][]float64 {
	out := make([][]float64, len(m.Values))
	for i, row := range m.Values {
		logged := make([]float64, len(row))
		for j, v := range row {
			if v < 0 {
				v = 0
			}
			logged[j] = math.Log2(v + 1)
		}
		out[i] = zscore(logged)
	}
	return out
}

func zscore(row []float64) []float64 {
	z := make([]float64, len(row))
	if len(row) == 0 {
		return z
	}
	mean, err := stats.Mean(row)
	if err != nil {
		return z
	}
	sd, err := stats.StandardDeviationPopulation(row)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return z
	}
	for j, v := range row {
		z[j] = (v - mean) / sd
	}
	return z
}

// Order is the display order of a heatmap, valid only for the exact sample
// and feature sets it was computed from.
type Order struct {
	Key             string      `json:"key"`
	Clustered       bool        `json:"clustered"`
	Samples         []string    `json:"samples"`
	Features        []string    `json:"features"`
	SampleBranches  []Branch    `json:"sampleBranches,omitempty"`
	FeatureBranches []Branch    `json:"featureBranches,omitempty"`
	Values          [][]float64 `json:"values"`
}

// Fingerprint identifies a (samples, features) pair independently of order.
func Fingerprint(samples, features []string) string {
	h := sha256.New()
	for _, part := range [][]string{samples, features} {
		sorted := append([]string(nil), part...)
		sort.Strings(sorted)
		for _, s := range sorted {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidFor reports whether o was computed for exactly these sets.
func (o *Order) ValidFor(samples, features []string) bool {
	return o != nil && o.Key == Fingerprint(samples, features)
}

// Cluster orders m by complete-linkage clustering on rows and columns.
func Cluster(m Matrix) (*Order, error) {
	if len(m.Features) < 2 {
		return nil, ErrEmptySelection
	}
	scaled := m.Scaled()

	rowOrder, rowBranches := dendrogram(len(m.Features), completeLinkage(scaled))
	colOrder, colBranches := dendrogram(len(m.Samples), completeLinkage(transpose(scaled, len(m.Samples))))

	o := &Order{
		Key:             Fingerprint(m.Samples, m.Features),
		Clustered:       true,
		Samples:         pick(m.Samples, colOrder),
		Features:        pick(m.Features, rowOrder),
		SampleBranches:  colBranches,
		FeatureBranches: rowBranches,
		Values:          permute(scaled, rowOrder, colOrder),
	}
	return o, nil
}

// Sorted orders samples by condition and keeps the feature selection order.
// No dendrograms are produced.
func Sorted(m Matrix, condition map[string]string, declared []string) (*Order, error) {
	if len(m.Features) < 2 {
		return nil, ErrEmptySelection
	}
	scaled := m.Scaled()

	index := make(map[string]int, len(m.Samples))
	for j, s := range m.Samples {
		index[s] = j
	}
	samples := SortByCondition(m.Samples, condition, declared)
	colOrder := make([]int, len(samples))
	for k, s := range samples {
		colOrder[k] = index[s]
	}
	rowOrder := make([]int, len(m.Features))
	for i := range rowOrder {
		rowOrder[i] = i
	}

	return &Order{
		Key:      Fingerprint(m.Samples, m.Features),
		Samples:  samples,
		Features: append([]string(nil), m.Features...),
		Values:   permute(scaled, rowOrder, colOrder),
	}, nil
}

// SortByCondition orders samples by declared condition order, then unknown
// conditions alphabetically, then by sample id.
func SortByCondition(samples []string, condition map[string]string, declared []string) []string {
	rank := make(map[string]int, len(declared))
	for i, c := range declared {
		rank[c] = i
	}
	out := append([]string(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := condition[out[i]], condition[out[j]]
		ri, iok := rank[ci]
		rj, jok := rank[cj]
		switch {
		case iok && jok && ri != rj:
			return ri < rj
		case iok != jok:
			return iok
		case !iok && ci != cj:
			return ci < cj
		}
		return out[i] < out[j]
	})
	return out
}

func transpose(rows [][]float64, cols int) [][]float64 {
	out := make([][]float64, cols)
	for j := range out {
		col := make([]float64, len(rows))
		for i := range rows {
			col[i] = rows[i][j]
		}
		out[j] = col
	}
	return out
}

func pick(ids []string, order []int) []string {
	out := make([]string, len(order))
	for k, i := range order {
		out[k] = ids[i]
	}
	return out
}

func permute(values [][]float64, rows, cols []int) [][]float64 {
	out := make([][]float64, len(rows))
	for k, i := range rows {
		row := make([]float64, len(cols))
		for l, j := range cols {
			row[l] = values[i][j]
		}
		out[k] = row
	}
	return out
}
