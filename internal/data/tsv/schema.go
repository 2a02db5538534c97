package tsv

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Logical resource paths. Kingdom is the organism group (host, bacteria,
// fungi); rank is the feature level (gene, genus, species, ...).

// SamplesPath is the per-kingdom sample metadata table.
func SamplesPath(kingdom string) string {
	return kingdom + "/metadata.tsv"
}

// EmbeddingPath is a projection (umap, tsne, ...) for one dataset.
func EmbeddingPath(kingdom, rank, projection string) string {
	return kingdom + "/" + rank + "/" + strings.ToLower(projection) + ".tsv"
}

// CountsPath is the per-feature counts table.
func CountsPath(kingdom, rank, feature string) string {
	return kingdom + "/" + rank + "/counts/" + feature + ".tsv"
}

// DifferentialPath is the differential table of one contrast.
func DifferentialPath(kingdom, rank, contrast string) string {
	return kingdom + "/" + rank + "/dge/" + contrast + ".tsv"
}

// EnrichmentPath is the enrichment table of one contrast.
func EnrichmentPath(kingdom, contrast string) string {
	return kingdom + "/go/" + contrast + ".tsv"
}

// SampleTable is the sample metadata resource: a `sample` column plus
// arbitrary metadata columns kept in file order.
type SampleTable struct {
	Fields []string
	Rows   []SampleRow
}

// SampleRow is one sample's metadata.
type SampleRow struct {
	ID     string
	Values map[string]string
}

// EmbeddingRow is one point of a projection.
type EmbeddingRow struct {
	ID string
	X  float64
	Y  float64
}

// DifferentialRow is one feature of a differential table.
type DifferentialRow struct {
	Feature        string  `json:"feature"`
	Log2FoldChange float64 `json:"log2FoldChange"`
	LfcSE          float64 `json:"lfcSE"`
	PValue         float64 `json:"pvalue"`
	PAdj           float64 `json:"padj"`
	BaseMean       float64 `json:"baseMean"`
}

// EnrichmentRow is one process of an enrichment table.
type EnrichmentRow struct {
	Direction  string   `json:"direction"`
	Genes      []string `json:"genes"`
	Process    string   `json:"process"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
	PValue     float64  `json:"pvalue"`
}

// Samples fetches and decodes the sample metadata table.
func (s *Store) Samples(ctx context.Context, kingdom string) (*SampleTable, error) {
	t, err := s.Fetch(ctx, SamplesPath(kingdom))
	if err != nil {
		return nil, err
	}
	return DecodeSamples(t)
}

// DecodeSamples decodes a sample metadata table.
func DecodeSamples(t *Table) (*SampleTable, error) {
	if err := t.Require("sample"); err != nil {
		return nil, err
	}
	idCol := t.Index("sample")
	out := &SampleTable{Rows: make([]SampleRow, 0, t.Len())}
	for i, c := range t.Columns {
		if i != idCol && c != "" {
			out.Fields = append(out.Fields, c)
		}
	}
	seen := make(map[string]struct{}, t.Len())
	for r, row := range t.Rows {
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			return nil, fmt.Errorf("%w: %s: row %d has empty sample id", ErrDataUnavailable, t.Path, r+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate sample %q", ErrDataUnavailable, t.Path, id)
		}
		seen[id] = struct{}{}
		vals := make(map[string]string, len(out.Fields))
		for i, c := range t.Columns {
			if i != idCol && c != "" {
				vals[c] = strings.TrimSpace(row[i])
			}
		}
		out.Rows = append(out.Rows, SampleRow{ID: id, Values: vals})
	}
	return out, nil
}

// Embedding fetches a projection. The two columns after `sample` are the
// coordinates; any further columns are joined metadata and ignored here.
func (s *Store) Embedding(ctx context.Context, kingdom, rank, projection string) ([]EmbeddingRow, error) {
	t, err := s.Fetch(ctx, EmbeddingPath(kingdom, rank, projection))
	if err != nil {
		return nil, err
	}
	return DecodeEmbedding(t)
}

// DecodeEmbedding decodes a projection table.
func DecodeEmbedding(t *Table) ([]EmbeddingRow, error) {
	if err := t.Require("sample"); err != nil {
		return nil, err
	}
	idCol := t.Index("sample")
	var coords []int
	for i := range t.Columns {
		if i != idCol {
			coords = append(coords, i)
		}
		if len(coords) == 2 {
			break
		}
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("%w: %s: expected two coordinate columns", ErrDataUnavailable, t.Path)
	}

	out := make([]EmbeddingRow, 0, t.Len())
	for r := range t.Rows {
		x, errX := t.Float(r, coords[0])
		y, errY := t.Float(r, coords[1])
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("%w: %s: row %d has non-numeric coordinates", ErrDataUnavailable, t.Path, r+1)
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		out = append(out, EmbeddingRow{ID: strings.TrimSpace(t.Rows[r][idCol]), X: x, Y: y})
	}
	return out, nil
}

// Counts fetches one feature's per-sample values.
func (s *Store) Counts(ctx context.Context, kingdom, rank, feature string) (map[string]float64, error) {
	t, err := s.Fetch(ctx, CountsPath(kingdom, rank, feature))
	if err != nil {
		return nil, err
	}
	return DecodeCounts(t)
}

// DecodeCounts decodes a `sample`/`counts` table. Missing values are dropped.
func DecodeCounts(t *Table) (map[string]float64, error) {
	if err := t.Require("sample", "counts"); err != nil {
		return nil, err
	}
	idCol, valCol := t.Index("sample"), t.Index("counts")
	out := make(map[string]float64, t.Len())
	for r := range t.Rows {
		v, err := t.Float(r, valCol)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: row %d: %v", ErrDataUnavailable, t.Path, r+1, err)
		}
		if math.IsNaN(v) {
			continue
		}
		out[strings.TrimSpace(t.Rows[r][idCol])] = v
	}
	return out, nil
}

// Differential fetches a differential table.
func (s *Store) Differential(ctx context.Context, kingdom, rank, contrast string) ([]DifferentialRow, error) {
	t, err := s.Fetch(ctx, DifferentialPath(kingdom, rank, contrast))
	if err != nil {
		return nil, err
	}
	return DecodeDifferential(t)
}

// DecodeDifferential decodes a differential table. NA statistics become NaN.
func DecodeDifferential(t *Table) ([]DifferentialRow, error) {
	cols := []string{"Gene", "log2FoldChange", "lfcSE", "pvalue", "padj", "baseMean"}
	if err := t.Require(cols...); err != nil {
		return nil, err
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Index(c)
	}

	out := make([]DifferentialRow, 0, t.Len())
	for r, row := range t.Rows {
		var nums [5]float64
		for k := 1; k < len(cols); k++ {
			v, err := t.Float(r, idx[k])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: row %d %s: %v", ErrDataUnavailable, t.Path, r+1, cols[k], err)
			}
			nums[k-1] = v
		}
		out = append(out, DifferentialRow{
			Feature:        strings.TrimSpace(row[idx[0]]),
			Log2FoldChange: nums[0],
			LfcSE:          nums[1],
			PValue:         nums[2],
			PAdj:           nums[3],
			BaseMean:       nums[4],
		})
	}
	return out, nil
}

// Enrichment fetches an enrichment table.
func (s *Store) Enrichment(ctx context.Context, kingdom, contrast string) ([]EnrichmentRow, error) {
	t, err := s.Fetch(ctx, EnrichmentPath(kingdom, contrast))
	if err != nil {
		return nil, err
	}
	return DecodeEnrichment(t)
}

// DecodeEnrichment decodes an enrichment table. The process, count, percentage
// and p-value columns accept the header spellings used by common GO tools.
func DecodeEnrichment(t *Table) ([]EnrichmentRow, error) {
	if err := t.Require("DGE", "Genes"); err != nil {
		return nil, err
	}
	dirCol, genesCol := t.Index("DGE"), t.Index("Genes")
	procCol := t.Find("Process", "Term", "Description", "GO_process")
	countCol := t.Find("Count", "Counts", "n")
	pctCol := t.Find("Percentage", "%", "Percent")
	pCol := t.Find("PValue", "P-value", "pvalue", "p.value")
	if procCol < 0 || countCol < 0 || pctCol < 0 || pCol < 0 {
		return nil, fmt.Errorf("%w: %s: enrichment table needs process, count, percentage and p-value columns",
			ErrDataUnavailable, t.Path)
	}

	out := make([]EnrichmentRow, 0, t.Len())
	for r, row := range t.Rows {
		count, err := t.Float(r, countCol)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: row %d count: %v", ErrDataUnavailable, t.Path, r+1, err)
		}
		pct, err := t.Float(r, pctCol)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: row %d percentage: %v", ErrDataUnavailable, t.Path, r+1, err)
		}
		p, err := t.Float(r, pCol)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: row %d p-value: %v", ErrDataUnavailable, t.Path, r+1, err)
		}
		n := 0
		if !math.IsNaN(count) {
			n = int(count)
		}
		out = append(out, EnrichmentRow{
			Direction:  strings.TrimSpace(row[dirCol]),
			Genes:      splitGenes(row[genesCol]),
			Process:    strings.TrimSpace(row[procCol]),
			Count:      n,
			Percentage: pct,
			PValue:     p,
		})
	}
	return out, nil
}

func splitGenes(s string) []string {
	f := func(r rune) bool { return r == ',' || r == ';' || r == '/' || r == ' ' }
	parts := strings.FieldsFunc(s, f)
	if len(parts) == 0 {
		return []string{}
	}
	return parts
}
