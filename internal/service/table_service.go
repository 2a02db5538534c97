// Package service provides the table and summary views next to the linked
// embeddings: filtered differential and enrichment tables and boxplots.
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/engine"
)

// TableSource reads the pre-computed tables. *tsv.Store implements it.
type TableSource interface {
	Differential(ctx context.Context, kingdom, rank, contrast string) ([]tsv.DifferentialRow, error)
	Enrichment(ctx context.Context, kingdom, contrast string) ([]tsv.EnrichmentRow, error)
}

// Stringencies are the adjusted p-value cutoffs offered to the user.
var Stringencies = []float64{0.05, 0.01, 0.001}

// DefaultStringency is used when no cutoff is given.
const DefaultStringency = 0.05

// ParseStringency parses a padj cutoff; only the offered values are accepted.
func ParseStringency(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultStringency, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid padj %q", s)
	}
	for _, allowed := range Stringencies {
		if v == allowed {
			return v, nil
		}
	}
	return 0, fmt.Errorf("invalid padj %g: want one of %v", v, Stringencies)
}

// Direction filters rows by the sign of the change.
type Direction string

const (
	Both Direction = ""
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "", "up" and "down" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Both, Up, Down:
		return d, nil
	}
	return Both, fmt.Errorf("invalid direction %q", s)
}

// DifferentialQuery selects rows of one contrast's differential table.
type DifferentialQuery struct {
	Dataset   engine.DatasetKey
	Contrast  engine.Contrast
	PAdj      float64
	Direction Direction
	Search    string
	// Full returns every row regardless of PAdj.
	Full bool
}

// DifferentialRow is a table row with missing statistics as nil.
type DifferentialRow struct {
	Feature        string   `json:"feature"`
	Log2FoldChange *float64 `json:"log2FoldChange"`
	LfcSE          *float64 `json:"lfcSE"`
	PValue         *float64 `json:"pvalue"`
	PAdj           *float64 `json:"padj"`
	BaseMean       *float64 `json:"baseMean"`
}

// DifferentialResult is a filtered differential table.
type DifferentialResult struct {
	Dataset  string            `json:"dataset"`
	Contrast string            `json:"contrast"`
	PAdj     float64           `json:"padj"`
	Total    int               `json:"total"`
	Up       int               `json:"up"`
	Down     int               `json:"down"`
	Rows     []DifferentialRow `json:"rows"`
}

// EnrichmentQuery selects rows of one contrast's enrichment table.
type EnrichmentQuery struct {
	Kingdom   string
	Contrast  engine.Contrast
	Direction Direction
	Search    string
}

// EnrichmentRow is an enrichment row with a missing p-value as nil.
type EnrichmentRow struct {
	Direction  string   `json:"direction"`
	Process    string   `json:"process"`
	Genes      []string `json:"genes"`
	Count      int      `json:"count"`
	Percentage *float64 `json:"percentage"`
	PValue     *float64 `json:"pvalue"`
}

// EnrichmentResult is a filtered enrichment table.
type EnrichmentResult struct {
	Kingdom  string          `json:"kingdom"`
	Contrast string          `json:"contrast"`
	Total    int             `json:"total"`
	Rows     []EnrichmentRow `json:"rows"`
}

// TableService filters the pre-computed tables.
type TableService struct {
	src TableSource
}

// NewTableService creates a table service.
func NewTableService(src TableSource) *TableService {
	return &TableService{src: src}
}

// Differential returns the rows passing the query, ordered by padj then by
// absolute fold change.
func (s *TableService) Differential(ctx context.Context, q DifferentialQuery) (*DifferentialResult, error) {
	rows, err := s.src.Differential(ctx, q.Dataset.Kingdom, q.Dataset.Rank, q.Contrast.String())
	if err != nil {
		return nil, err
	}
	if q.PAdj <= 0 {
		q.PAdj = DefaultStringency
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	res := &DifferentialResult{
		Dataset:  q.Dataset.String(),
		Contrast: q.Contrast.String(),
		PAdj:     q.PAdj,
		Total:    len(rows),
		Rows:     []DifferentialRow{},
	}
	kept := make([]tsv.DifferentialRow, 0, len(rows))
	for _, r := range rows {
		if needle != "" && !strings.Contains(strings.ToLower(r.Feature), needle) {
			continue
		}
		significant := !math.IsNaN(r.PAdj) && r.PAdj <= q.PAdj
		if significant {
			if r.Log2FoldChange > 0 {
				res.Up++
			} else if r.Log2FoldChange < 0 {
				res.Down++
			}
		}
		if !q.Full && !significant {
			continue
		}
		if q.Direction == Up && !(r.Log2FoldChange > 0) {
			continue
		}
		if q.Direction == Down && !(r.Log2FoldChange < 0) {
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		an, bn := math.IsNaN(a.PAdj), math.IsNaN(b.PAdj)
		if an != bn {
			return bn
		}
		if !an && a.PAdj != b.PAdj {
			return a.PAdj < b.PAdj
		}
		la, lb := math.Abs(a.Log2FoldChange), math.Abs(b.Log2FoldChange)
		if la != lb {
			return la > lb
		}
		return a.Feature < b.Feature
	})
	for _, r := range kept {
		res.Rows = append(res.Rows, DifferentialRow{
			Feature:        r.Feature,
			Log2FoldChange: nullable(r.Log2FoldChange),
			LfcSE:          nullable(r.LfcSE),
			PValue:         nullable(r.PValue),
			PAdj:           nullable(r.PAdj),
			BaseMean:       nullable(r.BaseMean),
		})
	}
	return res, nil
}

// Enrichment returns the processes passing the query ordered by p-value.
func (s *TableService) Enrichment(ctx context.Context, q EnrichmentQuery) (*EnrichmentResult, error) {
	rows, err := s.src.Enrichment(ctx, q.Kingdom, q.Contrast.String())
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	res := &EnrichmentResult{
		Kingdom:  q.Kingdom,
		Contrast: q.Contrast.String(),
		Total:    len(rows),
		Rows:     []EnrichmentRow{},
	}

	kept := make([]tsv.EnrichmentRow, 0, len(rows))
	for _, r := range rows {
		if q.Direction != Both && !strings.EqualFold(r.Direction, string(q.Direction)) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.Process), needle) {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].PValue, kept[j].PValue
		if math.IsNaN(a) != math.IsNaN(b) {
			return math.IsNaN(b)
		}
		return a < b
	})
	for _, r := range kept {
		res.Rows = append(res.Rows, EnrichmentRow{
			Direction:  r.Direction,
			Process:    r.Process,
			Genes:      r.Genes,
			Count:      r.Count,
			Percentage: nullable(r.Percentage),
			PValue:     nullable(r.PValue),
		})
	}
	return res, nil
}

// nullable maps NaN to nil so rows encode as JSON.
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
