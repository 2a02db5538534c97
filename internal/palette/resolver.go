package palette

import (
	"errors"
	"fmt"
	"sort"
)

// Resolver holds the pre-built domains of every variable of one dataset.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	domains  map[string]*Domain
	order    []string
	warnings []string
}

// NewResolver builds a domain for every column. Padded domains are kept and
// reported through Warnings.
func NewResolver(columns map[string][]string, fields []string, opts Options) *Resolver {
	r := &Resolver{domains: make(map[string]*Domain, len(columns))}
	if len(fields) == 0 {
		for f := range columns {
			fields = append(fields, f)
		}
		sort.Strings(fields)
	}
	for _, f := range fields {
		raw, ok := columns[f]
		if !ok {
			continue
		}
		d, err := BuildDomain(f, raw, opts)
		if err != nil {
			if !errors.Is(err, ErrInvalidDomain) {
				continue
			}
			r.warnings = append(r.warnings, err.Error())
		}
		r.domains[f] = d
		r.order = append(r.order, f)
	}
	return r
}

// Domain returns a variable's domain.
func (r *Resolver) Domain(variable string) (*Domain, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.domains[variable]
	return d, ok
}

// Variables returns the variables in load order.
func (r *Resolver) Variables() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Warnings lists the variables whose domain had to be padded.
func (r *Resolver) Warnings() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.warnings...)
}

// Resolve returns the color of a value. The result depends only on
// (variable, value).
func (r *Resolver) Resolve(variable, value string) (Color, error) {
	d, ok := r.Domain(variable)
	if !ok {
		return Color{}, fmt.Errorf("%w: %s", ErrUnknownVariable, variable)
	}
	c, ok := d.Color(value)
	if !ok {
		return Color{}, fmt.Errorf("%w: %s=%q", ErrUnknownValue, variable, value)
	}
	return c, nil
}
