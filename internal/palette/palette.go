// Package palette resolves metadata values to display colors.
//
// Every variable's value→color table is built once when a dataset is loaded,
// so a (variable, value) pair resolves to the same color regardless of call
// order. Reserved values (missing, male, female) use fixed colors and do not
// consume palette slots.
package palette

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/omics-dash/server/pkg/colormap"
)

// Missing is the sentinel category for absent values. It always sorts first.
const Missing = "NA"

// Unassigned pads a domain that has no real values.
const Unassigned = "unassigned"

var (
	// ErrInvalidDomain marks a domain that had to be padded (single value or
	// empty). The padded domain is still usable.
	ErrInvalidDomain = errors.New("invalid category domain")
	// ErrUnknownVariable is returned for variables not present at load time.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrUnknownValue is returned for discrete values outside the domain.
	ErrUnknownValue = errors.New("value outside domain")
)

// Kind is the encoding of a variable.
type Kind int

const (
	Discrete Kind = iota
	Continuous
)

func (k Kind) String() string {
	if k == Continuous {
		return "continuous"
	}
	return "discrete"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Color is either a fixed swatch (Hex) or a continuous colormap handle.
type Color struct {
	Hex      string `json:"hex,omitempty"`
	Colormap string `json:"colormap,omitempty"`
}

// Options carries reserved colors and per-variable settings.
type Options struct {
	MissingColor   string
	MaleColor      string
	FemaleColor    string
	Colormap       string
	DiscreteFields []string
	// Orders declares a fixed value order for a variable (e.g. condition).
	Orders map[string][]string
}

func (o Options) withDefaults() Options {
	if o.MissingColor == "" {
		o.MissingColor = "#d3d3d3"
	}
	if o.MaleColor == "" {
		o.MaleColor = "#4c72b0"
	}
	if o.FemaleColor == "" {
		o.FemaleColor = "#dd8452"
	}
	if _, ok := colormap.Lookup(o.Colormap); !ok {
		o.Colormap = "viridis"
	}
	return o
}

// Domain is the set of values a variable takes and their colors.
type Domain struct {
	Variable   string   `json:"variable"`
	Kind       Kind     `json:"kind"`
	Values     []string `json:"values,omitempty"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Colormap   string   `json:"colormap,omitempty"`
	Degenerate bool     `json:"degenerate,omitempty"`

	colors  map[string]string
	missing string
}

// Color returns the color for a value of this domain.
func (d *Domain) Color(value string) (Color, bool) {
	if d.Kind == Continuous {
		return Color{Colormap: d.Colormap}, true
	}
	hex, ok := d.colors[NormalizeValue(value)]
	if !ok {
		return Color{}, false
	}
	return Color{Hex: hex}, true
}

// Hex returns the swatch for a discrete value, or "" when unknown.
func (d *Domain) Hex(value string) string {
	return d.colors[NormalizeValue(value)]
}

// Swatch returns a concrete hex color for any value. Continuous values are
// sampled from the colormap; missing or unparsable ones get the missing color.
func (d *Domain) Swatch(value string) string {
	if d.Kind == Discrete {
		return d.Hex(value)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) {
		return d.missing
	}
	return d.SwatchFloat(v)
}

// SwatchFloat samples the continuous colormap at v.
func (d *Domain) SwatchFloat(v float64) string {
	if math.IsNaN(v) {
		return d.missing
	}
	cm, ok := colormap.Lookup(d.Colormap)
	if !ok {
		cm = colormap.Viridis
	}
	return colormap.Hex(cm.At(d.Normalize(v)))
}

// Normalize maps a continuous value into [0, 1].
func (d *Domain) Normalize(v float64) float64 {
	if d.Max <= d.Min {
		return 0
	}
	t := (v - d.Min) / (d.Max - d.Min)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Ramp returns the colormap sampled for a colorbar.
func (d *Domain) Ramp(n int) []string {
	cm, ok := colormap.Lookup(d.Colormap)
	if !ok {
		cm = colormap.Viridis
	}
	return cm.Stops(n)
}

// NormalizeValue trims a raw value and folds every missing spelling to Missing.
func NormalizeValue(raw string) string {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "nan", "none", "null", "n/a", "<na>", "missing":
		return Missing
	}
	return s
}

// BuildDomain builds a variable's domain from its raw column values. A padded
// domain is returned together with an error wrapping ErrInvalidDomain.
func BuildDomain(variable string, raw []string, opts Options) (*Domain, error) {
	opts = opts.withDefaults()

	values := make([]string, len(raw))
	for i, r := range raw {
		values[i] = NormalizeValue(r)
	}

	if !isDeclaredDiscrete(variable, opts) {
		if nums, ok := numericValues(values); ok {
			return buildContinuous(variable, nums, opts)
		}
	}
	return buildDiscrete(variable, values, opts)
}

func buildContinuous(variable string, nums []float64, opts Options) (*Domain, error) {
	lo, _ := stats.Min(nums)
	hi, _ := stats.Max(nums)
	d := &Domain{
		Variable: variable,
		Kind:     Continuous,
		Min:      lo,
		Max:      hi,
		Colormap: opts.Colormap,
		missing:  opts.MissingColor,
	}
	if lo == hi {
		d.Min, d.Max = lo-0.5, hi+0.5
		d.Degenerate = true
		return d, fmt.Errorf("%w: %s has a single value %g", ErrInvalidDomain, variable, lo)
	}
	return d, nil
}

func buildDiscrete(variable string, values []string, opts Options) (*Domain, error) {
	seen := make(map[string]struct{}, len(values))
	var distinct []string
	hasMissing := false
	for _, v := range values {
		if v == Missing {
			hasMissing = true
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		distinct = append(distinct, v)
	}
	sortDiscrete(distinct, opts.Orders[variable])

	d := &Domain{Variable: variable, Kind: Discrete, missing: opts.MissingColor}
	var err error
	switch {
	case len(distinct) == 0:
		d.Values = []string{Missing, Unassigned}
		d.Degenerate = true
		err = fmt.Errorf("%w: %s has no values", ErrInvalidDomain, variable)
	case len(distinct) == 1 && !hasMissing:
		d.Values = []string{Missing, distinct[0]}
		d.Degenerate = true
		err = fmt.Errorf("%w: %s has a single value %q", ErrInvalidDomain, variable, distinct[0])
	default:
		if hasMissing {
			d.Values = append([]string{Missing}, distinct...)
		} else {
			d.Values = distinct
		}
	}

	d.colors = make(map[string]string, len(d.Values))
	slot := 0
	for _, v := range d.Values {
		if hex, ok := reservedColor(variable, v, opts); ok {
			d.colors[v] = hex
			continue
		}
		d.colors[v] = colormap.Hex(colormap.Categorical.AtIndex(slot))
		slot++
	}
	return d, err
}

func reservedColor(variable, value string, opts Options) (string, bool) {
	if value == Missing {
		return opts.MissingColor, true
	}
	v := strings.ToLower(value)
	gendered := isGenderVariable(variable)
	switch {
	case v == "male" || (gendered && v == "m"):
		return opts.MaleColor, true
	case v == "female" || (gendered && v == "f"):
		return opts.FemaleColor, true
	}
	return "", false
}

func isGenderVariable(variable string) bool {
	switch strings.ToLower(variable) {
	case "sex", "gender":
		return true
	}
	return false
}

func isDeclaredDiscrete(variable string, opts Options) bool {
	for _, f := range opts.DiscreteFields {
		if strings.EqualFold(f, variable) {
			return true
		}
	}
	return false
}

// numericValues returns the non-missing values as floats when every one of
// them parses; at least one value is required.
func numericValues(values []string) ([]float64, bool) {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if v == Missing {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, false
		}
		nums = append(nums, f)
	}
	return nums, len(nums) > 0
}

// sortDiscrete orders values by the declared order first; the remainder is
// sorted alphabetically (numerically when every value is a number).
func sortDiscrete(values, declared []string) {
	rank := make(map[string]int, len(declared))
	for i, v := range declared {
		rank[v] = i
	}
	_, numeric := numericValues(values)
	sort.SliceStable(values, func(i, j int) bool {
		ri, iok := rank[values[i]]
		rj, jok := rank[values[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		if numeric {
			fi, _ := strconv.ParseFloat(values[i], 64)
			fj, _ := strconv.ParseFloat(values[j], 64)
			if fi != fj {
				return fi < fj
			}
		}
		return values[i] < values[j]
	})
}
