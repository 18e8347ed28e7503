package weights

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Row is the Parquet representation of one cell weight.
type Row struct {
	DivideID string  `parquet:"divide_id,zstd"`
	CellID   int32   `parquet:"cell_id"`
	Coverage float64 `parquet:"coverage"`
}

// WriteTable persists the weight table to a Parquet file for diagnostics and
// reuse. Rows appear in divide-id order, cells in cell-id order.
func WriteTable(t *Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weight table: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f, parquet.Compression(&parquet.Zstd))

	var rows []Row
	for _, e := range t.entries {
		for _, c := range e.Cells {
			rows = append(rows, Row{
				DivideID: e.DivideID,
				CellID:   int32(c.CellID),
				Coverage: c.Coverage,
			})
		}
	}
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write weight rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close weight writer: %w", err)
	}
	return f.Close()
}

// ReadTable loads a weight table previously written by WriteTable.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weight table: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	numRows := int(reader.NumRows())
	rows := make([]Row, numRows)
	if numRows > 0 {
		if _, err := reader.Read(rows); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read weight rows: %w", err)
		}
	}

	table := &Table{}
	for _, r := range rows {
		n := len(table.entries)
		if n == 0 || table.entries[n-1].DivideID != r.DivideID {
			table.entries = append(table.entries, Entry{DivideID: r.DivideID})
			n++
		}
		table.entries[n-1].Cells = append(table.entries[n-1].Cells, CellWeight{
			CellID:   int(r.CellID),
			Coverage: r.Coverage,
		})
	}
	return table, nil
}
