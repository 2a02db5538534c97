// Package export writes result tables as spreadsheet downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/omics-dash/server/internal/service"
)

// Format is a download format.
type Format string

const (
	XLSX Format = "xlsx"
	// TSV is tab-delimited text saved with an .xls extension so spreadsheet
	// programs open it directly.
	TSV Format = "tsv"
)

// ParseFormat accepts xlsx (default), tsv and xls.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xlsx":
		return XLSX, nil
	case "tsv", "xls", "txt":
		return TSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/vnd.ms-excel"
}

// Extension returns the file extension, without the dot.
func (f Format) Extension() string {
	if f == XLSX {
		return "xlsx"
	}
	return "xls"
}

// Table is a rectangular download. Cells are string, int, float64 or nil
// for missing values.
type Table struct {
	Name   string
	Header []string
	Rows   [][]interface{}
}

// Filename is the attachment name for the table in format f.
func (t Table) Filename(f Format) string {
	return t.safeName() + "." + f.Extension()
}

func (t Table) safeName() string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '"', '*', '?', '<', '>', '|', '[', ']', ' ':
			return '_'
		}
		return r
	}, t.Name)
	if name == "" {
		name = "table"
	}
	return name
}

// DifferentialTable converts a differential result to a download table.
func DifferentialTable(res *service.DifferentialResult) Table {
	t := Table{
		Name:   fmt.Sprintf("%s_%s_dge", res.Dataset, res.Contrast),
		Header: []string{"feature", "baseMean", "log2FoldChange", "lfcSE", "pvalue", "padj"},
		Rows:   make([][]interface{}, 0, len(res.Rows)),
	}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, []interface{}{
			r.Feature, cell(r.BaseMean), cell(r.Log2FoldChange), cell(r.LfcSE), cell(r.PValue), cell(r.PAdj),
		})
	}
	return t
}

// EnrichmentTable converts an enrichment result to a download table.
func EnrichmentTable(res *service.EnrichmentResult) Table {
	t := Table{
		Name:   fmt.Sprintf("%s_%s_go", res.Kingdom, res.Contrast),
		Header: []string{"DGE", "Process", "Count", "Percentage", "PValue", "Genes"},
		Rows:   make([][]interface{}, 0, len(res.Rows)),
	}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, []interface{}{
			r.Direction, r.Process, r.Count, cell(r.Percentage), cell(r.PValue), strings.Join(r.Genes, ","),
		})
	}
	return t
}

func cell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Write encodes t to w in format f.
func Write(w io.Writer, t Table, f Format) error {
	switch f {
	case XLSX:
		return writeXLSX(w, t)
	case TSV:
		return writeDelimited(w, t)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// maxSheetName is the spreadsheet limit on sheet name length.
const maxSheetName = 31

func writeXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.safeName()
	if len(sheet) > maxSheetName {
		sheet = sheet[:maxSheetName]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, row := range t.Rows {
		start, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("xlsx panes: %w", err)
	}
	return f.Write(w)
}

func writeDelimited(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = text(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func text(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NA"
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
