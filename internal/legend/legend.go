// Package legend builds the shared categorical legend that every linked view
// subscribes to. Models are values: every operation returns a new Model.
package legend

import (
	"errors"
	"fmt"

	"github.com/omics-dash/server/internal/palette"
)

var (
	// ErrLocked is returned for toggles while hide-unselected is active.
	ErrLocked = errors.New("legend is locked while unselected categories are hidden")
	// ErrNotToggleable is returned for toggles on a continuous colorbar.
	ErrNotToggleable = errors.New("colorbar legend has no toggles")
	// ErrUnknownCategory is returned for values outside the legend.
	ErrUnknownCategory = errors.New("unknown legend category")
)

// colorbarStops is the number of swatches sampled for a colorbar.
const colorbarStops = 9

// Entry is one discrete legend item.
type Entry struct {
	Value   string `json:"value"`
	Color   string `json:"color"`
	Visible bool   `json:"visible"`
}

// Colorbar describes a continuous legend.
type Colorbar struct {
	Colormap string   `json:"colormap"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Stops    []string `json:"stops"`
}

// Model is the legend of one color variable.
type Model struct {
	Variable       string    `json:"variable"`
	Kind           string    `json:"kind"`
	Entries        []Entry   `json:"entries,omitempty"`
	Colorbar       *Colorbar `json:"colorbar,omitempty"`
	HideUnselected bool      `json:"hideUnselected"`
}

// Build creates the legend for a domain. For discrete domains, visibility of
// values present in prev is carried over and new values start visible.
func Build(d *palette.Domain, prev map[string]bool) *Model {
	if d == nil {
		return &Model{Kind: palette.Discrete.String()}
	}
	m := &Model{Variable: d.Variable, Kind: d.Kind.String()}
	if d.Kind == palette.Continuous {
		m.Colorbar = &Colorbar{
			Colormap: d.Colormap,
			Min:      d.Min,
			Max:      d.Max,
			Stops:    d.Ramp(colorbarStops),
		}
		return m
	}
	m.Entries = make([]Entry, len(d.Values))
	for i, v := range d.Values {
		visible := true
		if was, ok := prev[v]; ok {
			visible = was
		}
		m.Entries[i] = Entry{Value: v, Color: d.Hex(v), Visible: visible}
	}
	return m
}

// IsColorbar reports whether the legend is continuous.
func (m *Model) IsColorbar() bool {
	return m.Colorbar != nil
}

func (m *Model) clone() *Model {
	out := *m
	out.Entries = append([]Entry(nil), m.Entries...)
	if m.Colorbar != nil {
		cb := *m.Colorbar
		cb.Stops = append([]string(nil), m.Colorbar.Stops...)
		out.Colorbar = &cb
	}
	return &out
}

// Toggle flips one category's visibility.
func (m *Model) Toggle(value string) (*Model, error) {
	if m.IsColorbar() {
		return nil, ErrNotToggleable
	}
	if m.HideUnselected {
		return nil, ErrLocked
	}
	value = palette.NormalizeValue(value)
	out := m.clone()
	for i := range out.Entries {
		if out.Entries[i].Value == value {
			out.Entries[i].Visible = !out.Entries[i].Visible
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, value)
}

// SetHideUnselected switches hide-unselected mode. The set of visible
// categories is unchanged; views drop hidden traces instead of greying them.
func (m *Model) SetHideUnselected(on bool) *Model {
	out := m.clone()
	out.HideUnselected = on
	return out
}

// Visibility returns value→visible for discrete legends, nil for colorbars.
func (m *Model) Visibility() map[string]bool {
	if m == nil || m.IsColorbar() {
		return nil
	}
	out := make(map[string]bool, len(m.Entries))
	for _, e := range m.Entries {
		out[e.Value] = e.Visible
	}
	return out
}

// VisibleSet returns the visible categories, or nil when everything is
// visible (colorbar, or no entry hidden).
func (m *Model) VisibleSet() map[string]struct{} {
	if m == nil || m.IsColorbar() {
		return nil
	}
	set := make(map[string]struct{}, len(m.Entries))
	all := true
	for _, e := range m.Entries {
		if e.Visible {
			set[e.Value] = struct{}{}
		} else {
			all = false
		}
	}
	if all {
		return nil
	}
	return set
}
