package view

// Point is one sample drawn in an embedding view. Category is the sample's
// value of the current color variable; Value is used for continuous coloring.
type Point struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

// CountVisible counts points whose category is visible and that lie inside
// rng. A nil visible set means every category is visible; a nil rng means
// autorange.
func CountVisible(points []Point, visible map[string]struct{}, rng *Range) int {
	n := 0
	for _, p := range points {
		if visible != nil {
			if _, ok := visible[p.Category]; !ok {
				continue
			}
		}
		if rng != nil && !rng.Contains(p.X, p.Y) {
			continue
		}
		n++
	}
	return n
}

// Trace is the group of points drawn for one category.
type Trace struct {
	Category   string  `json:"category"`
	Color      string  `json:"color,omitempty"`
	Points     []Point `json:"points"`
	LegendOnly bool    `json:"legendOnly,omitempty"`
}

// Traces groups points by category in legend order. Hidden categories are
// kept as legend-only traces, or dropped entirely when hideUnselected is set.
// Categories missing from order are appended in first-seen order.
func Traces(points []Point, order []string, colors func(string) string, visible map[string]struct{}, hideUnselected bool) []Trace {
	groups := make(map[string][]Point)
	var extra []string
	known := make(map[string]struct{}, len(order))
	for _, c := range order {
		known[c] = struct{}{}
	}
	for _, p := range points {
		if _, ok := known[p.Category]; !ok {
			if _, seen := groups[p.Category]; !seen {
				extra = append(extra, p.Category)
			}
		}
		groups[p.Category] = append(groups[p.Category], p)
	}

	all := append(append([]string(nil), order...), extra...)
	out := make([]Trace, 0, len(all))
	for _, c := range all {
		pts, ok := groups[c]
		if !ok {
			continue
		}
		hidden := false
		if visible != nil {
			_, vis := visible[c]
			hidden = !vis
		}
		if hidden && hideUnselected {
			continue
		}
		t := Trace{Category: c, Points: pts, LegendOnly: hidden}
		if colors != nil {
			t.Color = colors(c)
		}
		out = append(out, t)
	}
	return out
}
