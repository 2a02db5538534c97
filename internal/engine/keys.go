package engine

import (
	"fmt"
	"strings"
)

// DatasetKey identifies a dataset: an organism group and a feature rank.
type DatasetKey struct {
	Kingdom string `json:"kingdom"`
	Rank    string `json:"rank"`
}

// ParseDatasetKey decodes "kingdom:rank".
func ParseDatasetKey(s string) (DatasetKey, error) {
	kingdom, rank, ok := strings.Cut(strings.TrimSpace(s), ":")
	kingdom, rank = strings.TrimSpace(kingdom), strings.TrimSpace(rank)
	if !ok || kingdom == "" || rank == "" {
		return DatasetKey{}, fmt.Errorf("invalid dataset key %q: want kingdom:rank", s)
	}
	return DatasetKey{Kingdom: kingdom, Rank: rank}, nil
}

func (k DatasetKey) String() string {
	return k.Kingdom + ":" + k.Rank
}

// IsZero reports whether no dataset is selected.
func (k DatasetKey) IsZero() bool {
	return k.Kingdom == "" && k.Rank == ""
}

// Contrast is a two-sided comparison between conditions, written "A_vs_B".
type Contrast struct {
	A string `json:"a"`
	B string `json:"b"`
}

// ParseContrast decodes "A_vs_B".
func ParseContrast(s string) (Contrast, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "_vs_")
	if !ok || a == "" || b == "" {
		return Contrast{}, fmt.Errorf("invalid contrast %q: want A_vs_B", s)
	}
	return Contrast{A: a, B: b}, nil
}

func (c Contrast) String() string {
	if c.IsZero() {
		return ""
	}
	return c.A + "_vs_" + c.B
}

// IsZero reports whether no contrast is selected.
func (c Contrast) IsZero() bool {
	return c.A == "" && c.B == ""
}

// Includes reports whether a condition is one side of the contrast.
func (c Contrast) Includes(condition string) bool {
	return condition != "" && (condition == c.A || condition == c.B)
}
